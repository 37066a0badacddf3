/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ledger wraps the store's append-only JSONL primitive with an
// in-memory recent-entry cache and a tamper-evident hash chain. Grounded
// on the teacher's internal/controlplane/audit/store.go (Store wrapping
// an in-memory Log in front of persistence) with SQLite dropped in favor
// of the store's flat JSONL file — see DESIGN.md for that substitution.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/driftloop/autonomy/internal/shared/security"
	"github.com/driftloop/autonomy/internal/shared/signing"
	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/types"
)

// maxCacheEntries bounds the in-memory recent-entry cache per agent.
const maxCacheEntries = 200

// Ledger is a per-process, per-agent cache in front of the durable store.
type Ledger struct {
	st        *store.Store
	masterKey []byte
	signers   map[string]*signing.Signer
	cache     map[string][]types.LedgerEntry
	chain     map[string]string
}

// New builds a Ledger backed by st. masterKey may be nil/empty, in which
// case entries are appended without a chain digest (useful for tests and
// for operators who have not configured a chaining key). When set, each
// agent gets its own chaining key derived via signing.DeriveLedgerKey, so
// a leaked per-agent key cannot be used to forge another agent's chain.
func New(st *store.Store, masterKey []byte) *Ledger {
	return &Ledger{
		st:        st,
		masterKey: masterKey,
		signers:   map[string]*signing.Signer{},
		cache:     map[string][]types.LedgerEntry{},
		chain:     map[string]string{},
	}
}

// signerFor returns agentID's chaining signer, deriving and caching it on
// first use, or nil if no master key is configured.
func (l *Ledger) signerFor(agentID string) *signing.Signer {
	if len(l.masterKey) == 0 {
		return nil
	}
	if s, ok := l.signers[agentID]; ok {
		return s
	}
	s := signing.NewSigner(signing.DeriveLedgerKey(l.masterKey, agentID))
	l.signers[agentID] = s
	return s
}

// Append writes one entry through the store and updates the in-memory
// cache and hash chain.
func (l *Ledger) Append(agentID string, entry types.LedgerEntry, now time.Time) (types.LedgerEntry, error) {
	entry.Summary = security.SanitizeActionResult(entry.Summary, 0)
	for i, ev := range entry.Evidence {
		entry.Evidence[i] = security.SanitizeActionResult(ev, 0)
	}

	// Fill the fields the store would otherwise assign, so the digest
	// covers exactly the entry that is persisted and returned.
	if entry.ID == "" {
		entry.ID = store.NewID()
	}
	if entry.Ts.IsZero() {
		entry.Ts = now
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = store.NewID()
	}

	if signer := l.signerFor(agentID); signer != nil {
		prefix := l.chain[agentID]
		body, err := json.Marshal(entryForDigest(entry))
		if err != nil {
			return types.LedgerEntry{}, err
		}
		digest, err := signer.ChainDigest(prefix, body)
		if err != nil {
			return types.LedgerEntry{}, err
		}
		entry.ChainDigest = digest
		l.chain[agentID] = digest
	}

	saved, err := l.st.AppendLedger(agentID, entry, now)
	if err != nil {
		return types.LedgerEntry{}, err
	}

	l.cache[agentID] = append(l.cache[agentID], saved)
	if len(l.cache[agentID]) > maxCacheEntries {
		l.cache[agentID] = l.cache[agentID][len(l.cache[agentID])-maxCacheEntries:]
	}
	return saved, nil
}

// entryForDigest strips the chain digest field itself before hashing, so
// the digest is a function of the entry's content, not of a digest that
// hasn't been computed yet.
func entryForDigest(e types.LedgerEntry) types.LedgerEntry {
	e.ChainDigest = ""
	return e
}

// Recent returns up to n of the most recently appended entries for
// agentID from the in-memory cache, without touching disk.
func (l *Ledger) Recent(agentID string, n int) []types.LedgerEntry {
	cached := l.cache[agentID]
	if n <= 0 || n > len(cached) {
		n = len(cached)
	}
	out := make([]types.LedgerEntry, n)
	copy(out, cached[len(cached)-n:])
	return out
}

// Read proxies to the durable store for paginated, disk-backed reads.
func (l *Ledger) Read(agentID string, limit, offset int) ([]types.LedgerEntry, error) {
	return l.st.ReadLedger(agentID, limit, offset)
}

// VerifyChain checks entries (oldest first) against agentID's chaining
// key and reports the index of the first entry whose digest does not
// verify, or -1 if the whole chain is intact.
func (l *Ledger) VerifyChain(agentID string, entries []types.LedgerEntry) (int, error) {
	signer := l.signerFor(agentID)
	if signer == nil {
		return -1, nil
	}
	prefix := ""
	for i, e := range entries {
		body, err := json.Marshal(entryForDigest(e))
		if err != nil {
			return i, err
		}
		if err := signer.Verify(prefix, body, e.ChainDigest); err != nil {
			return i, nil
		}
		prefix = e.ChainDigest
	}
	return -1, nil
}
