/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package store owns the durable, per-agent, on-disk representation of the
// autonomy engine: the state document, its backup, the event queue, the
// audit ledger, and the run-lock. Every mutation is guarded by per-path
// write serialization (writequeue.go) so that concurrent agents never
// contend on each other's files, matching spec.md §5.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/driftloop/autonomy/internal/types"
)

// dedupePruneMultiplier controls how far past dedupeWindowMs a dedupe
// entry survives before being pruned. spec.md §9 flags the multiplier as
// an undocumented tunable rather than a principled constant; it is named
// here instead of inlined for exactly that reason.
const dedupePruneMultiplier = 3

// maxEventQueueLines is the hard cap on events.jsonl; past this, the
// oldest lines are dropped on drain (spec.md §4.1).
const maxEventQueueLines = 5000

// Defaults seeds a brand-new AgentState when none exists on disk yet.
type Defaults struct {
	Mission          string
	GoalsFile        string
	TasksFile        string
	LogFile          string
	MaxActionsPerRun int
	DedupeWindowMs   int64
	MaxQueuedEvents  int
	Safety           types.SafetyPolicy
}

// Store is the durable per-agent persistence layer.
type Store struct {
	root  string
	log   logr.Logger
	queue *writeQueue
}

// New builds a Store rooted at root; when root is empty it uses
// $AUTONOMY_STATE_ROOT if set, else the relative directory "autonomy",
// matching spec.md §6's single environment-variable
// test-isolation knob.
func New(root string, log logr.Logger) *Store {
	if root == "" {
		if envRoot := os.Getenv(stateRootEnv); envRoot != "" {
			root = envRoot
		} else {
			root = "autonomy"
		}
	}
	return &Store{root: root, log: log, queue: newWriteQueue()}
}

func defaultState(agentID string, d Defaults, now time.Time) *types.AgentState {
	if d.MaxActionsPerRun <= 0 {
		d.MaxActionsPerRun = 5
	}
	if d.DedupeWindowMs <= 0 {
		d.DedupeWindowMs = 15 * 60 * 1000
	}
	if d.MaxQueuedEvents <= 0 {
		d.MaxQueuedEvents = 50
	}
	if d.GoalsFile == "" {
		d.GoalsFile = "AUTONOMY_GOALS.md"
	}
	if d.TasksFile == "" {
		d.TasksFile = "AUTONOMY_TASKS.md"
	}
	if d.LogFile == "" {
		d.LogFile = "AUTONOMY_LOG.md"
	}
	if d.Safety.MaxConsecutiveErrors <= 0 {
		d.Safety.MaxConsecutiveErrors = 5
	}
	if d.Safety.ErrorPauseMinutes <= 0 {
		d.Safety.ErrorPauseMinutes = 30
	}
	if d.Safety.StaleTaskHours <= 0 {
		d.Safety.StaleTaskHours = 24
	}

	return &types.AgentState{
		Version:          1,
		AgentID:          NormalizeAgentID(agentID),
		Mission:          d.Mission,
		GoalsFile:        d.GoalsFile,
		TasksFile:        d.TasksFile,
		LogFile:          d.LogFile,
		MaxActionsPerRun: d.MaxActionsPerRun,
		DedupeWindowMs:   d.DedupeWindowMs,
		MaxQueuedEvents:  d.MaxQueuedEvents,
		Safety:           d.Safety,
		Budget:           types.Budget{DayKey: dayKey(now)},
		Augmentation: types.Augmentation{
			Stage:          types.StageDiscover,
			StageEnteredAt: now,
			PolicyVersion:  1,
		},
		Approvals:   map[string]types.Approval{},
		TaskSignals: map[string]string{},
		Dedupe:      map[string]time.Time{},
		Goals:       []string{},
		Tasks:       []types.Task{},
		RecentEvents: []types.Event{},
		RecentCycles: []types.CycleRecord{},
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// LoadState reads the primary state file, falling back to the backup on
// corruption, and to a freshly built default document if both are
// unusable. It never returns a partial or uninitialized state.
func (s *Store) LoadState(agentID string, defaults Defaults, now time.Time) (*types.AgentState, error) {
	if err := os.MkdirAll(s.agentDir(agentID), 0o755); err != nil {
		return nil, fmt.Errorf("create agent dir: %w", err)
	}

	state, err := readStateFile(s.statePath(agentID))
	if err != nil || state == nil {
		state, err = readStateFile(s.backupPath(agentID))
	}
	if err != nil || state == nil {
		state = defaultState(agentID, defaults, now)
		if saveErr := s.SaveState(state); saveErr != nil {
			return nil, saveErr
		}
		return state, nil
	}

	normalizeLoaded(state, now)
	return state, nil
}

// readStateFile returns (nil, nil) for a missing or empty file, a parsed
// state for a valid one, and a non-nil error only for malformed JSON
// (a condition the caller treats as "try the next fallback").
func readStateFile(path string) (*types.AgentState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, nil
	}
	if len(data) == 0 {
		return nil, nil
	}
	var state types.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	return &state, nil
}

// normalizeLoaded re-applies spec.md §4.1's load-time invariants to a
// state that was read successfully from disk: dedupe pruning, budget
// window refresh, and pause-field consistency.
func normalizeLoaded(state *types.AgentState, now time.Time) {
	if state.Approvals == nil {
		state.Approvals = map[string]types.Approval{}
	}
	if state.TaskSignals == nil {
		state.TaskSignals = map[string]string{}
	}
	if state.Dedupe == nil {
		state.Dedupe = map[string]time.Time{}
	}

	pruneDedupe(state, now)

	if state.Budget.DayKey != dayKey(now) {
		state.Budget.DayKey = dayKey(now)
		state.Budget.CyclesUsed = 0
		state.Budget.TokensUsed = 0
	}

	if !state.Paused {
		state.PauseReason = ""
		state.PausedAt = nil
	}

	capRingBuffers(state)
}

func pruneDedupe(state *types.AgentState, now time.Time) {
	window := state.DedupeWindowMs
	if window <= 0 {
		window = 15 * 60 * 1000
	}
	cutoff := now.Add(-time.Duration(window*dedupePruneMultiplier) * time.Millisecond)
	for k, ts := range state.Dedupe {
		if ts.Before(cutoff) {
			delete(state.Dedupe, k)
		}
	}
	if len(state.Dedupe) > types.MaxDedupeEntries {
		evictOldestDedupe(state, len(state.Dedupe)-types.MaxDedupeEntries)
	}
}

// evictOldestDedupe removes the n least-recently-admitted dedupe entries,
// matching spec.md §8's "next admit evicts the least recent timestamp".
func evictOldestDedupe(state *types.AgentState, n int) {
	type kv struct {
		key string
		ts  time.Time
	}
	entries := make([]kv, 0, len(state.Dedupe))
	for k, ts := range state.Dedupe {
		entries = append(entries, kv{k, ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	for i := 0; i < n && i < len(entries); i++ {
		delete(state.Dedupe, entries[i].key)
	}
}

func capRingBuffers(state *types.AgentState) {
	if len(state.Goals) > types.MaxGoals {
		state.Goals = state.Goals[len(state.Goals)-types.MaxGoals:]
	}
	if len(state.Tasks) > types.MaxTasks {
		state.Tasks = state.Tasks[len(state.Tasks)-types.MaxTasks:]
	}
	if len(state.RecentEvents) > types.MaxRecentEvents {
		state.RecentEvents = state.RecentEvents[len(state.RecentEvents)-types.MaxRecentEvents:]
	}
	if len(state.RecentCycles) > types.MaxRecentCycles {
		state.RecentCycles = state.RecentCycles[len(state.RecentCycles)-types.MaxRecentCycles:]
	}
	if len(state.Augmentation.Gaps) > types.MaxGaps {
		state.Augmentation.Gaps = state.Augmentation.Gaps[:types.MaxGaps]
	}
	if len(state.Augmentation.Candidates) > types.MaxCandidates {
		state.Augmentation.Candidates = state.Augmentation.Candidates[:types.MaxCandidates]
	}
	for _, c := range state.Augmentation.Candidates {
		if c == nil {
			continue
		}
		if c.Priority > 10000 {
			c.Priority = 10000
		} else if c.Priority < 0 {
			c.Priority = 0
		}
	}
	if len(state.Augmentation.Transitions) > types.MaxTransitions {
		state.Augmentation.Transitions = state.Augmentation.Transitions[len(state.Augmentation.Transitions)-types.MaxTransitions:]
	}
}

// SaveState serializes state to pretty JSON, writes it to a per-process
// unique temp file, renames it atomically over the primary, then mirrors
// it to the backup. The backup may lag the primary by at most one save
// but never precedes it.
func (s *Store) SaveState(state *types.AgentState) error {
	dir := s.agentDir(state.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	primary := s.statePath(state.AgentID)
	if err := s.queue.withPath(primary, func() error {
		return atomicWrite(dir, primary, data)
	}); err != nil {
		return err
	}

	backup := s.backupPath(state.AgentID)
	return s.queue.withPath(backup, func() error {
		return atomicWrite(dir, backup, data)
	})
}

func atomicWrite(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// ResetRuntime deletes the entire agent directory. Operator action only.
func (s *Store) ResetRuntime(agentID string) error {
	return os.RemoveAll(s.agentDir(agentID))
}

// HasState reports whether a state document already exists for agentID.
func (s *Store) HasState(agentID string) bool {
	_, err := os.Stat(s.statePath(agentID))
	return err == nil
}

// NewID returns a fresh random identifier, used for events and ledger
// entries that arrive without one.
func NewID() string { return uuid.NewString() }
