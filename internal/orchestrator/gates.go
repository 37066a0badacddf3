/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import "github.com/driftloop/autonomy/internal/types"

// GateResult is the outcome of one promotion-gate evaluation.
type GateResult struct {
	Passed bool
	Reason string
}

// recentErrorRate computes the error rate over all of state.RecentCycles,
// excluding skipped cycles. Unlike canary.DeriveFromCycles, it does not
// restrict itself to the last five non-skipped cycles.
func recentErrorRate(state *types.AgentState) float64 {
	total, errored := 0, 0
	for _, c := range state.RecentCycles {
		if c.Status == "skipped" {
			continue
		}
		total++
		if c.Status == "error" {
			errored++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(errored) / float64(total)
}

// EvaluateGates checks spec.md §4.8's five promotion-gate conditions,
// all of which must hold for a transition out of promote to proceed.
func EvaluateGates(state *types.AgentState, cfg GateConfig) GateResult {
	verified := 0
	for _, c := range state.Augmentation.Candidates {
		if c.Status == types.CandidateVerified {
			verified++
		}
	}
	if verified == 0 {
		return GateResult{Passed: false, Reason: "no verified candidates"}
	}

	if len(state.RecentCycles) < cfg.MinimumRecentCycles {
		return GateResult{Passed: false, Reason: "insufficient recent cycle history"}
	}

	if rate := recentErrorRate(state); rate > cfg.MaximumErrorRate {
		return GateResult{Passed: false, Reason: "recent error rate exceeds maximum"}
	}

	if state.Augmentation.LastCanaryStatus == "regressed" {
		return GateResult{Passed: false, Reason: "canary status is regressed"}
	}

	evalScore := 0.0
	if state.Augmentation.LastEvalScore != nil {
		evalScore = *state.Augmentation.LastEvalScore
	}
	if evalScore < cfg.MinimumEvalScore {
		return GateResult{Passed: false, Reason: "eval score below minimum"}
	}

	return GateResult{Passed: true, Reason: "all promotion gates satisfied"}
}
