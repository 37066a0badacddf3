/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package canary

import (
	"testing"

	"github.com/driftloop/autonomy/internal/types"
)

func TestEvaluateErrorRateExceedanceRollsBack(t *testing.T) {
	v := Evaluate(Inputs{ErrorRate: 0.5, MaxErrorRate: 0.2})
	if !v.Regressed || !v.ShouldRollback {
		t.Fatalf("v = %+v, want regressed with rollback", v)
	}
}

func TestEvaluateLatencyRegression(t *testing.T) {
	v := Evaluate(Inputs{ErrorRate: 0.01, MaxErrorRate: 0.2, LatencyP95Ms: 200, BaselineLatencyP95Ms: 100, MaxLatencyRegressionPct: 50})
	if !v.Regressed {
		t.Fatalf("v = %+v, want regressed (100%% latency increase > 50%% threshold)", v)
	}
	if v.ShouldRollback {
		t.Fatalf("latency regression should not force rollback per spec")
	}
}

func TestEvaluateHealthy(t *testing.T) {
	v := Evaluate(Inputs{ErrorRate: 0.01, MaxErrorRate: 0.2, LatencyP95Ms: 110, BaselineLatencyP95Ms: 100, MaxLatencyRegressionPct: 50})
	if v.Regressed {
		t.Fatalf("v = %+v, want healthy", v)
	}
}

func TestEvaluateClampsNegativeInputs(t *testing.T) {
	v := Evaluate(Inputs{ErrorRate: -5, MaxErrorRate: 0.2})
	if v.Regressed {
		t.Fatalf("negative error rate should clamp to 0, not regress")
	}
}

func TestApplyRollbackDemotesVerifiedOnly(t *testing.T) {
	candidates := []*types.SkillCandidate{
		{ID: "a", Status: types.CandidateVerified},
		{ID: "b", Status: types.CandidatePlanned},
	}
	ApplyRollback(candidates)
	if candidates[0].Status != types.CandidateRejected {
		t.Fatalf("verified candidate should be demoted to rejected")
	}
	if candidates[1].Status != types.CandidatePlanned {
		t.Fatalf("planned candidate should be untouched by rollback")
	}
}

func TestDeriveFromCyclesUsesLastFiveNonSkipped(t *testing.T) {
	cycles := []types.CycleRecord{
		{Status: "ok", DurationMs: 100},
		{Status: "skipped", DurationMs: 999999},
		{Status: "error", DurationMs: 200},
		{Status: "ok", DurationMs: 150},
	}
	in := DeriveFromCycles(cycles)
	if in.ErrorRate != 1.0/3.0 {
		t.Fatalf("errorRate = %v, want %v", in.ErrorRate, 1.0/3.0)
	}
}
