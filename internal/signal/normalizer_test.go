/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package signal

import (
	"testing"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		eventType string
		category  types.GapCategory
	}{
		{"queue.overflow", types.CategoryReliability},
		{"task.stale.blocked", types.CategoryCapability},
		{"review.daily", types.CategoryQuality},
		{"autonomy.security.alert", types.CategorySafety},
		{"autonomy.policy.changed", types.CategorySafety},
		{"tool.call.timeout", types.CategoryReliability},
		{"request.latency.p95", types.CategoryLatency},
		{"budget.warning", types.CategoryCost},
		{"something.else", types.CategoryUnknown},
	}
	for _, tc := range cases {
		r := classify(tc.eventType)
		if r.category != tc.category {
			t.Errorf("classify(%q) category = %q, want %q", tc.eventType, r.category, tc.category)
		}
	}
}

func TestNormalizeDedupesByKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []types.Event{
		{ID: "1", DedupeKey: "k1", Type: "queue.overflow", Ts: now},
		{ID: "2", DedupeKey: "k1", Type: "queue.overflow", Ts: now},
		{ID: "3", DedupeKey: "k2", Type: "review.daily", Ts: now},
	}
	signals := Normalize(events)
	if len(signals) != 2 {
		t.Fatalf("len(signals) = %d, want 2", len(signals))
	}
}

func TestTitlePrefersPayloadTitle(t *testing.T) {
	ev := types.Event{ID: "1", Type: "task.stale.blocked", Payload: map[string]interface{}{"title": "Widget stuck"}}
	signals := Normalize([]types.Event{ev})
	if signals[0].Title != "Widget stuck" {
		t.Fatalf("title = %q, want %q", signals[0].Title, "Widget stuck")
	}
}

func TestTitleFallsBackToDottedType(t *testing.T) {
	ev := types.Event{ID: "1", Type: "task.stale.blocked"}
	signals := Normalize([]types.Event{ev})
	if signals[0].Title != "task stale blocked" {
		t.Fatalf("title = %q, want %q", signals[0].Title, "task stale blocked")
	}
}
