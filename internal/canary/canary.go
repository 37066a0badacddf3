/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package canary evaluates error-rate and latency-regression health for
// verified candidates. The deterministic-scoring style — clamp helpers,
// weighted terms, a reason string attached to the verdict — is grounded
// on the teacher's internal/safety/blastradius.DeterministicScorer; the
// actual rules here are spec.md §4.7's error-rate/latency-regression
// check, not blast-radius scoring.
package canary

import (
	"math"
	"sort"

	"github.com/driftloop/autonomy/internal/types"
)

// Inputs are the canary stage's metric snapshot. Non-finite or negative
// values clamp to 0 per spec.md §4.7.
type Inputs struct {
	ErrorRate               float64
	MaxErrorRate            float64
	LatencyP95Ms            float64
	BaselineLatencyP95Ms    float64
	MaxLatencyRegressionPct float64
}

func clampNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Verdict is the canary evaluator's outcome.
type Verdict struct {
	Regressed      bool
	Reason         string
	ShouldRollback bool
}

// Evaluate applies spec.md §4.7's two rules in order: error-rate
// exceedance, then latency regression relative to baseline.
func Evaluate(in Inputs) Verdict {
	errorRate := clampNonNegative(in.ErrorRate)
	maxErrorRate := clampNonNegative(in.MaxErrorRate)
	latency := clampNonNegative(in.LatencyP95Ms)
	baseline := clampNonNegative(in.BaselineLatencyP95Ms)
	maxRegressionPct := clampNonNegative(in.MaxLatencyRegressionPct)

	if errorRate > maxErrorRate {
		return Verdict{
			Regressed:      true,
			Reason:         "error rate exceeds maximum allowed error rate",
			ShouldRollback: true,
		}
	}

	if baseline > 0 {
		regressionPct := (latency - baseline) / baseline * 100
		if regressionPct > maxRegressionPct {
			return Verdict{
				Regressed: true,
				Reason:    "p95 latency regressed beyond maximum allowed percentage",
			}
		}
	}

	return Verdict{Regressed: false, Reason: "healthy"}
}

// DeriveFromCycles builds Inputs from the last 5 non-skipped cycles when
// explicit metrics are absent, per spec.md §4.7: errorRate = error/total,
// p95 from sorted durations, baseline = median.
func DeriveFromCycles(cycles []types.CycleRecord) Inputs {
	var recent []types.CycleRecord
	for i := len(cycles) - 1; i >= 0 && len(recent) < 5; i-- {
		if cycles[i].Status == "skipped" {
			continue
		}
		recent = append(recent, cycles[i])
	}
	if len(recent) == 0 {
		return Inputs{}
	}

	errors := 0
	durations := make([]float64, 0, len(recent))
	for _, c := range recent {
		if c.Status == "error" {
			errors++
		}
		durations = append(durations, float64(c.DurationMs))
	}
	sort.Float64s(durations)

	return Inputs{
		ErrorRate:            float64(errors) / float64(len(recent)),
		LatencyP95Ms:         percentile(durations, 0.95),
		BaselineLatencyP95Ms: percentile(durations, 0.5),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ApplyRollback demotes every verified candidate to rejected, matching
// spec.md §4.7's regression response.
func ApplyRollback(candidates []*types.SkillCandidate) {
	for _, c := range candidates {
		if c.Status == types.CandidateVerified {
			c.Status = types.CandidateRejected
		}
	}
}
