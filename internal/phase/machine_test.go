/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package phase

import (
	"testing"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

func TestIsLegalTransition(t *testing.T) {
	cases := []struct {
		from, to types.Stage
		legal    bool
	}{
		{types.StageDiscover, types.StageDiscover, true},
		{types.StageDiscover, types.StageDesign, true},
		{types.StageDiscover, types.StageVerify, false},
		{types.StageRetire, types.StageDiscover, true},
		{types.StagePromote, types.StageDesign, false},
	}
	for _, tc := range cases {
		got := IsLegalTransition(tc.from, tc.to)
		if got != tc.legal {
			t.Errorf("IsLegalTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.legal)
		}
	}
}

func TestTransitionStageRejectsIllegalMove(t *testing.T) {
	state := &types.AgentState{Augmentation: types.Augmentation{Stage: types.StageDiscover}}
	if err := TransitionStage(state, types.StagePromote, "skip ahead", time.Now()); err == nil {
		t.Fatalf("expected error for illegal transition")
	}
}

func TestTransitionStageCapsHistory(t *testing.T) {
	state := &types.AgentState{Augmentation: types.Augmentation{Stage: types.StageDiscover}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < types.MaxTransitions+10; i++ {
		to := Next(state.Augmentation.Stage)
		if err := TransitionStage(state, to, "cycle", now); err != nil {
			t.Fatalf("TransitionStage: %v", err)
		}
	}
	if len(state.Augmentation.Transitions) != types.MaxTransitions {
		t.Fatalf("len(transitions) = %d, want %d", len(state.Augmentation.Transitions), types.MaxTransitions)
	}
}

func TestResolveNextStageDiscoverWithNoGaps(t *testing.T) {
	state := &types.AgentState{Augmentation: types.Augmentation{Stage: types.StageDiscover}}
	if got := ResolveNextStage(state); got != types.StageDiscover {
		t.Fatalf("ResolveNextStage = %q, want discover", got)
	}
}

func TestResolveNextStagePromoteAlwaysAdvancesToObserve(t *testing.T) {
	state := &types.AgentState{Augmentation: types.Augmentation{Stage: types.StagePromote}}
	if got := ResolveNextStage(state); got != types.StageObserve {
		t.Fatalf("ResolveNextStage = %q, want observe", got)
	}
}

func TestExecutionClassForStage(t *testing.T) {
	cases := map[types.Stage]types.ExecutionClass{
		types.StagePromote:    types.ExecutionDestructive,
		types.StageRetire:     types.ExecutionDestructive,
		types.StageSynthesize: types.ExecutionReversibleWrite,
		types.StageVerify:     types.ExecutionReversibleWrite,
		types.StageCanary:     types.ExecutionReversibleWrite,
		types.StageDiscover:   types.ExecutionReadOnly,
		types.StageObserve:    types.ExecutionReadOnly,
	}
	for stage, want := range cases {
		if got := ExecutionClassForStage(stage); got != want {
			t.Errorf("ExecutionClassForStage(%s) = %q, want %q", stage, got, want)
		}
	}
}
