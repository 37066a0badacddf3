/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package forge

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

func TestPlanCreatesOneCandidatePerOpenGap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gaps := []*types.Gap{
		{ID: "g1", Key: "k1", Title: "missing retry", Category: types.CategoryReliability, Status: types.GapOpen, Score: 80},
		{ID: "g2", Key: "k2", Title: "missing auth check", Category: types.CategorySafety, Status: types.GapOpen, Score: 90},
	}
	candidates := Plan(gaps, nil, now)
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	for _, c := range candidates {
		if len(c.Safety.Constraints) == 0 {
			t.Fatalf("candidate %s has no safety constraints", c.Name)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gaps := []*types.Gap{{ID: "g1", Key: "k1", Title: "missing retry", Status: types.GapOpen, Score: 80}}

	first := Plan(gaps, nil, now)
	second := Plan(gaps, nil, now)
	if len(first) != len(second) || first[0].Name != second[0].Name || first[0].Priority != second[0].Priority {
		t.Fatalf("Plan is not deterministic across calls with identical inputs")
	}
}

func TestPlanSkipsGapsAlreadyBackedByCandidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gaps := []*types.Gap{{ID: "g1", Key: "k1", Title: "x", Status: types.GapOpen, Score: 50}}
	existing := []*types.SkillCandidate{{ID: "c1", SourceGapID: "g1", Name: "autonomy-x", Status: types.CandidateCandidate}}

	candidates := Plan(gaps, existing, now)
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1 (no duplicate for already-backed gap)", len(candidates))
	}
}

func TestSynthesizeWritesExpectedSections(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidate := &types.SkillCandidate{
		ID: "c1", Name: "autonomy-test", Intent: "Address gap: test",
		Status: types.CandidateCandidate,
		Safety: types.CandidateSafety{ExecutionClass: types.ExecutionReversibleWrite, Constraints: []string{"c1"}},
		Tests:  []string{"t1"},
	}

	if _, err := Synthesize([]*types.SkillCandidate{candidate}, dir, now); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if candidate.Status != types.CandidatePlanned {
		t.Fatalf("status = %q, want planned", candidate.Status)
	}

	body, err := os.ReadFile(GeneratedPath(dir, candidate.Name))
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	for _, want := range []string{SectionPurpose, SectionSafety, SectionVerification, "c1", "t1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("generated file missing %q", want)
		}
	}
}

func TestSynthesizeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidate := &types.SkillCandidate{
		ID: "c1", Name: "autonomy-test", Intent: "Address gap: test",
		Status: types.CandidatePlanned, UpdatedAt: now,
		Safety: types.CandidateSafety{Constraints: []string{"c1"}},
		Tests:  []string{"t1"},
	}

	if _, err := Synthesize([]*types.SkillCandidate{candidate}, dir, now); err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	firstInfo, _ := os.Stat(GeneratedPath(dir, candidate.Name))

	later := now.Add(time.Hour)
	if _, err := Synthesize([]*types.SkillCandidate{candidate}, dir, later); err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}
	secondInfo, _ := os.Stat(GeneratedPath(dir, candidate.Name))

	if firstInfo.ModTime() != secondInfo.ModTime() {
		t.Fatalf("unchanged candidate should not rewrite the generated file")
	}
	if candidate.UpdatedAt != now {
		t.Fatalf("updatedAt changed on idempotent re-synthesis: got %v, want %v", candidate.UpdatedAt, now)
	}
}

func TestVerifyPassesWhenSectionsAndConstraintsPresent(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidate := &types.SkillCandidate{
		ID: "c1", Name: "autonomy-test", Intent: "x", Status: types.CandidateCandidate,
		Safety: types.CandidateSafety{Constraints: []string{"must not mutate files"}},
		Tests:  []string{"unit test"},
	}
	if _, err := Synthesize([]*types.SkillCandidate{candidate}, dir, now); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	_, reports := Verify([]*types.SkillCandidate{candidate}, dir)
	if candidate.Status != types.CandidateVerified {
		t.Fatalf("status = %q, want verified", candidate.Status)
	}
	if len(reports) != 1 || !reports[0].Passed {
		t.Fatalf("reports = %+v, want one passing report", reports)
	}
}

func TestVerifyRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	candidate := &types.SkillCandidate{ID: "c1", Name: "autonomy-ghost", Status: types.CandidatePlanned}

	_, reports := Verify([]*types.SkillCandidate{candidate}, dir)
	if candidate.Status != types.CandidateRejected {
		t.Fatalf("status = %q, want rejected", candidate.Status)
	}
	if len(reports) != 1 || reports[0].Passed {
		t.Fatalf("expected a failing report for a missing file")
	}
	if reports[0].Failures[0] != FailureMissingFile {
		t.Fatalf("failure = %q, want %q", reports[0].Failures[0], FailureMissingFile)
	}
}
