/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package gap

import (
	"testing"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

func TestUpsertCreatesNewGap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := types.Signal{Key: "k1", Title: "queue overflow", Category: types.CategoryReliability, Severity: 85, Confidence: 0.9, Ts: now}

	gaps := Upsert(nil, sig, now)
	if len(gaps) != 1 {
		t.Fatalf("len(gaps) = %d, want 1", len(gaps))
	}
	if gaps[0].Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", gaps[0].Occurrences)
	}
	if gaps[0].Status != types.GapOpen {
		t.Fatalf("status = %q, want open", gaps[0].Status)
	}
}

func TestUpsertBlendsExistingGap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := types.Signal{Key: "k1", Title: "queue overflow", Category: types.CategoryReliability, Severity: 80, Confidence: 0.8, Ts: now}
	gaps := Upsert(nil, sig, now)

	sig2 := types.Signal{Key: "k1", Title: "queue overflow again", Category: types.CategoryReliability, Severity: 100, Confidence: 1.0, Ts: now.Add(time.Hour)}
	gaps = Upsert(gaps, sig2, now.Add(time.Hour))

	if len(gaps) != 1 {
		t.Fatalf("len(gaps) = %d, want 1 (same key should upsert in place)", len(gaps))
	}
	if gaps[0].Occurrences != 2 {
		t.Fatalf("occurrences = %d, want 2", gaps[0].Occurrences)
	}
	wantSeverity := 0.65*80 + 0.35*100
	if gaps[0].Severity != wantSeverity {
		t.Fatalf("severity = %v, want %v", gaps[0].Severity, wantSeverity)
	}
}

func TestUpsertSortsDescendingByScore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gaps := Upsert(nil, types.Signal{Key: "low", Title: "low", Severity: 10, Confidence: 0.1, Ts: now}, now)
	gaps = Upsert(gaps, types.Signal{Key: "high", Title: "high", Severity: 95, Confidence: 0.95, Ts: now}, now)

	if gaps[0].Key != "high" {
		t.Fatalf("gaps[0].Key = %q, want %q (higher score should sort first)", gaps[0].Key, "high")
	}
}

func TestUpsertCapsAt200(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var gaps []*types.Gap
	for i := 0; i < 205; i++ {
		sig := types.Signal{Key: string(rune('a')) + time.Duration(i).String(), Title: "gap", Severity: float64(i % 100), Confidence: 0.5, Ts: now}
		gaps = Upsert(gaps, sig, now)
	}
	if len(gaps) > types.MaxGaps {
		t.Fatalf("len(gaps) = %d, want <= %d", len(gaps), types.MaxGaps)
	}
}
