/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package forge implements the Skill Forge: the planner that turns open
// gaps into candidates, the synthesizer that writes generated skill
// markdown, the verifier that checks it, and the publisher that pushes
// verified candidates to an OCI registry. Grounded on the teacher's
// internal/skill/loader.go (frontmatter+body parsing) and
// internal/skills/registry.go (ORAS push), generalized from arbitrary
// skill files to the three fixed sections spec.md §4.6 requires.
package forge

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// maxNewCandidatesPerCall bounds planner output per invocation (spec.md §4.6).
const maxNewCandidatesPerCall = 5

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases s and collapses non-alphanumeric runs into a single
// hyphen, trimming leading/trailing hyphens.
func slug(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	out := slugPattern.ReplaceAllString(lower, "-")
	return strings.Trim(out, "-")
}

var baseConstraints = []string{
	"must not mutate files outside the workspace directory",
	"must not perform network I/O beyond the configured registry",
	"must be reversible via the recorded rollback procedure",
}

var baseTests = []string{
	"unit test covering the primary code path",
	"regression test reproducing the originating gap",
	"dry-run verification against a representative fixture",
}

func constraintsFor(category types.GapCategory) []string {
	constraints := append([]string{}, baseConstraints...)
	switch category {
	case types.CategorySafety:
		constraints = append(constraints, "must include a policy-deny regression test")
	case types.CategoryReliability:
		constraints = append(constraints, "must include a timeout/retry resilience test")
	}
	return constraints
}

// Plan generates up to maxNewCandidatesPerCall candidates, one per open
// gap not already backing a candidate, then merges, sorts, and caps the
// full candidate list per spec.md §4.6. Output is deterministic for a
// fixed gap snapshot and now.
func Plan(gaps []*types.Gap, existing []*types.SkillCandidate, now time.Time) []*types.SkillCandidate {
	backed := make(map[string]bool, len(existing))
	for _, c := range existing {
		backed[c.SourceGapID] = true
	}

	sortedGaps := append([]*types.Gap{}, gaps...)
	sort.SliceStable(sortedGaps, func(i, j int) bool {
		if sortedGaps[i].Score != sortedGaps[j].Score {
			return sortedGaps[i].Score > sortedGaps[j].Score
		}
		return sortedGaps[i].Key < sortedGaps[j].Key
	})

	var created []*types.SkillCandidate
	for _, g := range sortedGaps {
		if g.Status != types.GapOpen || backed[g.ID] {
			continue
		}
		if len(created) >= maxNewCandidatesPerCall {
			break
		}

		name := fmt.Sprintf("autonomy-%s", slugName(g))
		candidate := &types.SkillCandidate{
			ID:          "cand-" + g.ID,
			SourceGapID: g.ID,
			Name:        name,
			Intent:      fmt.Sprintf("Address gap: %s", g.Title),
			Status:      types.CandidateCandidate,
			Priority:    int(math.Max(1, math.Floor(float64(g.Score)))),
			CreatedAt:   now,
			UpdatedAt:   now,
			Safety: types.CandidateSafety{
				ExecutionClass: types.ExecutionReversibleWrite,
				Constraints:    constraintsFor(g.Category),
			},
			Tests: append([]string{}, baseTests...),
		}
		created = append(created, candidate)
	}

	merged := append(append([]*types.SkillCandidate{}, existing...), created...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > types.MaxCandidates {
		merged = merged[:types.MaxCandidates]
	}
	return merged
}

func slugName(g *types.Gap) string {
	if g.Title != "" {
		return slug(g.Title)
	}
	if g.Key != "" {
		return slug(g.Key)
	}
	return slug(g.ID)
}
