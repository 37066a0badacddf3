/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package store

import (
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/driftloop/autonomy/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), logr.Discard())
}

func TestLoadStateCreatesDefaultWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	state, err := s.LoadState("agent-1", Defaults{Mission: "keep the lights on"}, now)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Mission != "keep the lights on" {
		t.Fatalf("mission = %q, want %q", state.Mission, "keep the lights on")
	}
	if state.Augmentation.Stage != types.StageDiscover {
		t.Fatalf("stage = %q, want discover", state.Augmentation.Stage)
	}
	if !s.HasState("agent-1") {
		t.Fatalf("HasState = false after LoadState created a document")
	}
}

func TestSaveStateThenLoadStateRoundTrips(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	state, err := s.LoadState("agent-2", Defaults{}, now)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	state.Mission = "patrol the perimeter"
	if err := s.SaveState(state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	reloaded, err := s.LoadState("agent-2", Defaults{}, now)
	if err != nil {
		t.Fatalf("LoadState (reload): %v", err)
	}
	if reloaded.Mission != "patrol the perimeter" {
		t.Fatalf("mission = %q after reload, want %q", reloaded.Mission, "patrol the perimeter")
	}
}

func TestLoadStateRecoversFromCorruptPrimary(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	state, err := s.LoadState("agent-3", Defaults{Mission: "original"}, now)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if err := s.SaveState(state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	if err := writeCorruptFile(s.statePath("agent-3")); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	recovered, err := s.LoadState("agent-3", Defaults{}, now)
	if err != nil {
		t.Fatalf("LoadState after corruption: %v", err)
	}
	if recovered.Mission != "original" {
		t.Fatalf("mission = %q after recovery, want %q", recovered.Mission, "original")
	}
}

func writeCorruptFile(path string) error {
	return os.WriteFile(path, []byte("{not json"), 0o644)
}

func TestQueueDedupeScenario(t *testing.T) {
	// spec.md §8 scenario 1: three events keyed "t-1", two keyed "t-2";
	// drain(maxEvents=10) yields exactly two admitted events and
	// droppedDuplicates = 3.
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := s.EnqueueEvent(EnqueueParams{AgentID: "agent-4", Source: types.SourceManual, Type: "task.created", DedupeKey: "t-1", Ts: now}); err != nil {
			t.Fatalf("enqueue t-1: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := s.EnqueueEvent(EnqueueParams{AgentID: "agent-4", Source: types.SourceManual, Type: "task.created", DedupeKey: "t-2", Ts: now}); err != nil {
			t.Fatalf("enqueue t-2: %v", err)
		}
	}

	state, err := s.LoadState("agent-4", Defaults{}, now)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	result, err := s.DrainEvents("agent-4", state, 10, time.UnixMilli(1_000_000).UTC())
	if err != nil {
		t.Fatalf("DrainEvents: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("admitted = %d, want 2", len(result.Events))
	}
	if result.DroppedDuplicates != 3 {
		t.Fatalf("droppedDuplicates = %d, want 3", result.DroppedDuplicates)
	}
	if result.Events[0].DedupeKey != "t-1" || result.Events[1].DedupeKey != "t-2" {
		t.Fatalf("admitted order = %v, want [t-1 t-2]", result.Events)
	}
}

func TestAcquireLockRefusesConcurrentClaim(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := s.AcquireLock("agent-5", now)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}

	if _, err := s.AcquireLock("agent-5", now); err != ErrLockHeld {
		t.Fatalf("second AcquireLock err = %v, want ErrLockHeld", err)
	}

	if err := s.ReleaseLock("agent-5", token); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	if _, err := s.AcquireLock("agent-5", now); err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
}

func TestAcquireLockReclaimsStaleLock(t *testing.T) {
	s := newTestStore(t)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := s.AcquireLock("agent-6", past)
	if err != nil {
		t.Fatalf("AcquireLock at past time: %v", err)
	}
	if err := s.ReleaseLock("agent-6", token); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	// Simulate a process crash that left the lock file in place past its
	// own expiry by writing it directly, bypassing ReleaseLock.
	if err := s.queue.withPath(s.lockPath("agent-6"), func() error {
		return atomicWrite(s.agentDir("agent-6"), s.lockPath("agent-6"), []byte(`{"token":"stale","acquiredAt":"2020-01-01T00:00:00Z","expiresAt":"2020-01-01T06:00:00Z"}`))
	}); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	if _, err := s.AcquireLock("agent-6", now); err != nil {
		t.Fatalf("AcquireLock should reclaim stale lock: %v", err)
	}
}

func TestLedgerAppendAndReadOrdersDescending(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		entry := types.LedgerEntry{
			AgentID:   "agent-7",
			EventType: types.LedgerPhaseEnter,
			Stage:     types.StageDiscover,
			Summary:   "entry",
		}
		if _, err := s.AppendLedger("agent-7", entry, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("AppendLedger: %v", err)
		}
	}

	entries, err := s.ReadLedger("agent-7", 10, 0)
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if !entries[0].Ts.After(entries[1].Ts) || !entries[1].Ts.After(entries[2].Ts) {
		t.Fatalf("entries not sorted descending by ts: %v", entries)
	}
}
