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
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// EnqueueParams describes one event to append to an agent's queue.
type EnqueueParams struct {
	AgentID   string
	Source    types.EventSource
	Type      string
	DedupeKey string
	Payload   map[string]interface{}
	Ts        time.Time
}

// EnqueueEvent appends one JSON line to events.jsonl, assigning an id and
// timestamp if absent, and returns the materialized event.
func (s *Store) EnqueueEvent(p EnqueueParams) (types.Event, error) {
	ev := types.Event{
		ID:        NewID(),
		Source:    p.Source,
		Type:      p.Type,
		DedupeKey: p.DedupeKey,
		Payload:   p.Payload,
		Ts:        p.Ts,
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}

	dir := s.agentDir(p.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Event{}, fmt.Errorf("create agent dir: %w", err)
	}
	path := s.eventsPath(p.AgentID)

	line, err := json.Marshal(ev)
	if err != nil {
		return types.Event{}, fmt.Errorf("marshal event: %w", err)
	}

	err = s.queue.withPath(path, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event queue: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	return ev, err
}

// DrainResult reports what happened during one DrainEvents call.
type DrainResult struct {
	Events            []types.Event
	DroppedDuplicates int
	DroppedInvalid    int
	DroppedOverflow   int
	Remaining         int
}

// DrainEvents reads the queue, drops overflow beyond maxEventQueueLines
// (keeping the most recent), drops malformed lines, admits up to
// maxEvents not seen within state.DedupeWindowMs, updates state.Dedupe,
// and writes the residual queue back.
func (s *Store) DrainEvents(agentID string, state *types.AgentState, maxEvents int, now time.Time) (DrainResult, error) {
	path := s.eventsPath(agentID)
	result := DrainResult{}

	var rawLines []string
	readErr := s.queue.withPath(path, func() error {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("open event queue: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				rawLines = append(rawLines, line)
			}
		}
		return scanner.Err()
	})
	if readErr != nil {
		return result, readErr
	}

	if len(rawLines) > maxEventQueueLines {
		result.DroppedOverflow = len(rawLines) - maxEventQueueLines
		rawLines = rawLines[result.DroppedOverflow:]
	}

	var parsed []types.Event
	for _, line := range rawLines {
		var ev types.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			result.DroppedInvalid++
			continue
		}
		parsed = append(parsed, ev)
	}

	window := time.Duration(state.DedupeWindowMs) * time.Millisecond
	var admitted []types.Event
	var residual []types.Event
	for _, ev := range parsed {
		if len(admitted) >= maxEvents {
			residual = append(residual, ev)
			continue
		}
		key := dedupeKeyFor(ev)
		if last, seen := state.Dedupe[key]; seen && now.Sub(last) < window {
			result.DroppedDuplicates++
			continue
		}
		state.Dedupe[key] = now
		admitted = append(admitted, ev)
	}

	result.Events = admitted
	result.Remaining = len(residual)

	writeErr := s.queue.withPath(path, func() error {
		return rewriteQueue(path, residual)
	})
	if writeErr != nil {
		return result, writeErr
	}
	return result, nil
}

// dedupeKeyFor implements spec.md §4.1's priority: explicit dedupeKey,
// else event id, else "source:type".
func dedupeKeyFor(ev types.Event) string {
	if ev.DedupeKey != "" {
		return ev.DedupeKey
	}
	if ev.ID != "" {
		return ev.ID
	}
	return fmt.Sprintf("%s:%s", ev.Source, ev.Type)
}

func rewriteQueue(path string, events []types.Event) error {
	if len(events) == 0 {
		return os.WriteFile(path, []byte{}, 0o644)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rewrite event queue: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal residual event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write residual event: %w", err)
		}
	}
	return w.Flush()
}
