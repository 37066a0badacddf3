/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package ledger

import (
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/types"
)

func TestAppendPopulatesCache(t *testing.T) {
	st := store.New(t.TempDir(), logr.Discard())
	l := New(st, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := types.LedgerEntry{AgentID: "agent-1", EventType: types.LedgerPhaseEnter, Stage: types.StageDiscover, Summary: "entered discover"}
	if _, err := l.Append("agent-1", entry, now); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent := l.Recent("agent-1", 10)
	if len(recent) != 1 {
		t.Fatalf("len(recent) = %d, want 1", len(recent))
	}
}

func TestAppendBuildsVerifiableChain(t *testing.T) {
	st := store.New(t.TempDir(), logr.Discard())
	l := New(st, []byte("test-key-0123456789012345678901"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var entries []types.LedgerEntry
	for i := 0; i < 3; i++ {
		saved, err := l.Append("agent-2", types.LedgerEntry{AgentID: "agent-2", Summary: "entry"}, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		entries = append(entries, saved)
	}

	if idx, err := l.VerifyChain("agent-2", entries); err != nil || idx != -1 {
		t.Fatalf("VerifyChain = (%d, %v), want (-1, nil)", idx, err)
	}

	entries[1].Summary = "tampered"
	if idx, err := l.VerifyChain("agent-2", entries); err != nil || idx != 1 {
		t.Fatalf("VerifyChain after tamper = (%d, %v), want (1, nil)", idx, err)
	}
}
