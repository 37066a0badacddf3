/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package phase implements the nine-stage augmentation cycle and its
// legal-transition checks, table-driven in the style of the state-machine
// reference in the example pack, but fixed to the single cycle spec.md
// §4.4 names rather than an arbitrary transition table.
package phase

import (
	"fmt"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// order is the fixed cycle every stage advances through.
var order = []types.Stage{
	types.StageDiscover,
	types.StageDesign,
	types.StageSynthesize,
	types.StageVerify,
	types.StageCanary,
	types.StagePromote,
	types.StageObserve,
	types.StageLearn,
	types.StageRetire,
}

func indexOf(s types.Stage) int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that immediately follows s in the cycle.
func Next(s types.Stage) types.Stage {
	i := indexOf(s)
	if i < 0 {
		return types.StageDiscover
	}
	return order[(i+1)%len(order)]
}

// IsLegalTransition reports whether moving from `from` to `to` is
// permitted: staying put, or advancing to the immediate successor.
func IsLegalTransition(from, to types.Stage) bool {
	return to == from || to == Next(from)
}

// TransitionStage performs a legal transition, updating stage bookkeeping
// and appending a capped transition record. It returns an error for any
// requested transition that is not legal — a programmer bug, per
// spec.md §7, not a runtime condition to recover from.
func TransitionStage(state *types.AgentState, to types.Stage, reason string, now time.Time) error {
	from := state.Augmentation.Stage
	if !IsLegalTransition(from, to) {
		return fmt.Errorf("illegal stage transition %s -> %s", from, to)
	}

	state.Augmentation.Stage = to
	state.Augmentation.StageEnteredAt = now
	state.Augmentation.LastTransitionAt = now
	state.Augmentation.LastTransitionReason = reason

	state.Augmentation.Transitions = append(state.Augmentation.Transitions, types.Transition{
		From: from, To: to, Ts: now, Reason: reason,
	})
	if len(state.Augmentation.Transitions) > types.MaxTransitions {
		state.Augmentation.Transitions = state.Augmentation.Transitions[len(state.Augmentation.Transitions)-types.MaxTransitions:]
	}
	return nil
}

// ResolveNextStage implements spec.md §4.4's per-stage successor table.
func ResolveNextStage(state *types.AgentState) types.Stage {
	aug := state.Augmentation
	switch aug.Stage {
	case types.StageDiscover:
		if anyOpenGap(aug.Gaps) {
			return types.StageDesign
		}
		return types.StageDiscover
	case types.StageDesign:
		if anyCandidateOrPlanned(aug.Candidates) {
			return types.StageSynthesize
		}
		return types.StageDiscover
	case types.StageSynthesize:
		if anyCandidateOrPlanned(aug.Candidates) {
			return types.StageVerify
		}
		return types.StageDiscover
	case types.StageVerify:
		if anyVerified(aug.Candidates) {
			return types.StageCanary
		}
		return types.StageDiscover
	case types.StageCanary:
		if anyVerified(aug.Candidates) {
			return types.StagePromote
		}
		return types.StageDiscover
	case types.StagePromote:
		return types.StageObserve
	case types.StageObserve:
		return types.StageLearn
	case types.StageLearn:
		return types.StageRetire
	case types.StageRetire:
		return types.StageDiscover
	default:
		return types.StageDiscover
	}
}

func anyOpenGap(gaps []*types.Gap) bool {
	for _, g := range gaps {
		if g.Status == types.GapOpen {
			return true
		}
	}
	return false
}

func anyCandidateOrPlanned(candidates []*types.SkillCandidate) bool {
	for _, c := range candidates {
		if c.Status == types.CandidateCandidate || c.Status == types.CandidatePlanned {
			return true
		}
	}
	return false
}

func anyVerified(candidates []*types.SkillCandidate) bool {
	for _, c := range candidates {
		if c.Status == types.CandidateVerified {
			return true
		}
	}
	return false
}

// ExecutionClassForStage maps a stage to its risk band (spec.md §4.4).
func ExecutionClassForStage(s types.Stage) types.ExecutionClass {
	switch s {
	case types.StagePromote, types.StageRetire:
		return types.ExecutionDestructive
	case types.StageSynthesize, types.StageVerify, types.StageCanary:
		return types.ExecutionReversibleWrite
	default:
		return types.ExecutionReadOnly
	}
}
