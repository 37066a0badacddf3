/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// AppendLedger appends one JSON line to the agent's ledger file, assigning
// id/ts/correlationId if absent. This is the file-level primitive; the
// internal/ledger package wraps it with the in-memory cache and hash
// chain spec.md §4.10/4.11 and SPEC_FULL.md §3 ask for.
func (s *Store) AppendLedger(agentID string, entry types.LedgerEntry, now time.Time) (types.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.Ts.IsZero() {
		entry.Ts = now
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = NewID()
	}

	dir := s.agentDir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.LedgerEntry{}, fmt.Errorf("create agent dir: %w", err)
	}
	path := s.ledgerPath(agentID)

	line, err := json.Marshal(entry)
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("marshal ledger entry: %w", err)
	}

	err = s.queue.withPath(path, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		return nil
	})
	return entry, err
}

// ReadLedger parses the ledger file, drops malformed lines (tolerating a
// truncated final line from a crash mid-write), sorts descending by ts,
// and returns the requested page.
func (s *Store) ReadLedger(agentID string, limit, offset int) ([]types.LedgerEntry, error) {
	path := s.ledgerPath(agentID)
	var entries []types.LedgerEntry

	err := s.queue.withPath(path, func() error {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("open ledger: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var entry types.LedgerEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Ts.After(entries[j].Ts) })

	if offset >= len(entries) {
		return []types.LedgerEntry{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}
