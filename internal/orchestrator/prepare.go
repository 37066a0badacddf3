/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/driftloop/autonomy/internal/canary"
	"github.com/driftloop/autonomy/internal/evalpack"
	"github.com/driftloop/autonomy/internal/forge"
	"github.com/driftloop/autonomy/internal/gap"
	"github.com/driftloop/autonomy/internal/metrics"
	"github.com/driftloop/autonomy/internal/phase"
	"github.com/driftloop/autonomy/internal/policy"
	"github.com/driftloop/autonomy/internal/signal"
	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/telemetry"
	"github.com/driftloop/autonomy/internal/types"
)

// DropCounts mirrors store.DrainResult's drop tallies across the
// Prepare/Finalize boundary.
type DropCounts struct {
	Duplicates int
	Invalid    int
	Overflow   int
}

// PrepareParams is the input to Prepare.
type PrepareParams struct {
	AgentID      string
	WorkspaceDir string
	Config       *Config
	Now          time.Time
	// Ctx roots the cycle's OTel span. context.Background() is used if nil.
	Ctx context.Context
}

// PrepareResult is Prepare's output: either a skip (Skipped=true, Reason
// set) or a live cycle (Skipped=false, the rest populated).
type PrepareResult struct {
	Skipped         bool
	Reason          string
	State           *types.AgentState
	Events          []types.Event
	Drops           DropCounts
	RemainingEvents int
	CycleStartedAt  time.Time
	LockToken       string
}

// Prepare runs spec.md §4.11's 13-step cycle-preparation procedure.
func (o *Orchestrator) Prepare(p PrepareParams) (PrepareResult, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ctx := p.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: load state, applying config as defaults then overwriting
	// tunables with any explicit config field.
	state, err := o.Store.LoadState(p.AgentID, defaultsFromConfig(p.Config), now)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("load state: %w", err)
	}
	applyConfig(state, p.Config)

	// Step 2: refresh the budget window for the current day. Store.LoadState
	// has already moved a loaded state onto today's window and zeroed its
	// usage, so dayRolledOver is false here and a new day reaches
	// applyAutoResume as a fresh same-day budget (spec.md §9 flags this
	// overlap rather than resolving it).
	dayRolledOver := state.Budget.DayKey != dayKey(now)
	refreshBudgetWindow(state, now)

	// Step 3: auto-resume rules.
	resumedReason := applyAutoResume(state, dayRolledOver, now)

	// Step 4: still paused -> skip.
	if state.Paused {
		reason := fmt.Sprintf("autonomy paused (%s)", state.PauseReason)
		if err := o.Store.SaveState(state); err != nil {
			return PrepareResult{}, fmt.Errorf("save paused state: %w", err)
		}
		return PrepareResult{Skipped: true, Reason: reason, State: state}, nil
	}

	// Step 5: budget exhaustion -> optional auto-pause, skip.
	if budgetExhausted(state) {
		if state.Safety.AutoPauseOnBudgetExhausted {
			applyPause(state, types.PauseBudget, now)
		}
		if err := o.Store.SaveState(state); err != nil {
			return PrepareResult{}, fmt.Errorf("save budget-exhausted state: %w", err)
		}
		return PrepareResult{Skipped: true, Reason: "daily budget exhausted", State: state}, nil
	}

	// Step 6: acquire run-lock.
	token, err := o.Store.AcquireLock(p.AgentID, now)
	if err != nil {
		if err == store.ErrLockHeld {
			return PrepareResult{Skipped: true, Reason: "autonomy run already in progress", State: state}, nil
		}
		return PrepareResult{}, fmt.Errorf("acquire run-lock: %w", err)
	}

	ctx, cycleSpan := telemetry.StartCycleSpan(ctx, p.AgentID, string(state.Augmentation.Stage))
	metrics.ActiveCycles.Inc()
	defer metrics.ActiveCycles.Dec()
	defer cycleSpan.End()

	// Step 7: ensure workspace files exist.
	if err := ensureWorkspaceFiles(p.WorkspaceDir, state, now); err != nil {
		_ = o.Store.ReleaseLock(p.AgentID, token)
		return PrepareResult{}, fmt.Errorf("ensure workspace files: %w", err)
	}

	// Step 8: drain queue; construct synthetic events.
	drainResult, err := o.Store.DrainEvents(p.AgentID, state, state.MaxActionsPerRun, now)
	if err != nil {
		_ = o.Store.ReleaseLock(p.AgentID, token)
		return PrepareResult{}, fmt.Errorf("drain events: %w", err)
	}
	drops := DropCounts{
		Duplicates: drainResult.DroppedDuplicates,
		Invalid:    drainResult.DroppedInvalid,
		Overflow:   drainResult.DroppedOverflow,
	}
	synthetics := buildSyntheticEvents(state, drops, resumedReason, now)
	events := append(append([]types.Event{}, drainResult.Events...), synthetics...)

	// Step 9: run Skill Forge & Canary per current stage.
	o.runForgeAndCanary(ctx, p.AgentID, state, p.WorkspaceDir, events, now)

	// Step 10 & computing next stage (spec.md numbers approval-consumption
	// before "compute next stage", but the pending action names the next
	// stage, so the next stage must be resolved first).
	nextStage := phase.ResolveNextStage(state)
	pendingAction := "autonomy.stage." + string(nextStage)
	approvalApplied, appliedEventType := policy.ConsumeGrant(state, events, pendingAction, now, o.ApprovalTTL)
	if approvalApplied {
		events = append(events, synthetic(appliedEventType, map[string]interface{}{"action": pendingAction}, now))
	}

	// Step 11: promotion gates (when leaving promote), then policy
	// evaluation on the stage-transition action.
	if state.Augmentation.Stage == types.StagePromote {
		gate := EvaluateGates(state, o.GateConfig)
		if !gate.Passed {
			events = append(events, o.emitPolicyDenied(p.AgentID, state, nextStage, gate.Reason, now))
			nextStage = state.Augmentation.Stage
		}
	}

	if nextStage != state.Augmentation.Stage {
		executionClass := phase.ExecutionClassForStage(nextStage)
		_, policySpan := telemetry.StartPolicyEvalSpan(ctx, p.AgentID, pendingAction, string(executionClass))
		decision := policy.Evaluate(policy.EvaluateParams{
			Action:             pendingAction,
			ExecutionClass:     executionClass,
			Config:             o.PolicyConfig,
			ApprovedByOperator: policy.IsApproved(state, pendingAction, now),
		}, o.Log)
		decisionLabel := "denied"
		if decision.Allowed {
			decisionLabel = "allowed"
		}
		telemetry.EndPolicyEvalSpan(policySpan, decisionLabel, decision.ApprovalLevel == policy.ApprovalRequired)
		if !decision.Allowed {
			events = append(events, o.emitPolicyDenied(p.AgentID, state, nextStage, decision.Reason, now))
			nextStage = state.Augmentation.Stage
		}
	}

	// Step 12: perform the legal transition, if any.
	if nextStage != state.Augmentation.Stage {
		from := state.Augmentation.Stage
		durationMs := now.Sub(state.Augmentation.StageEnteredAt).Milliseconds()
		_, transitionSpan := telemetry.StartPhaseTransitionSpan(ctx, p.AgentID, string(from), string(nextStage))
		if err := phase.TransitionStage(state, nextStage, "resolved by orchestrator", now); err != nil {
			telemetry.EndPhaseTransitionSpan(transitionSpan, string(phase.ExecutionClassForStage(nextStage)))
			_ = o.Store.ReleaseLock(p.AgentID, token)
			return PrepareResult{}, fmt.Errorf("transition stage: %w", err)
		}
		telemetry.EndPhaseTransitionSpan(transitionSpan, string(phase.ExecutionClassForStage(nextStage)))
		metrics.RecordStageTransition(p.AgentID, string(from), string(nextStage))
		o.appendLedger(p.AgentID, types.LedgerEntry{
			AgentID:   p.AgentID,
			EventType: types.LedgerPhaseExit,
			Stage:     from,
			Actor:     "orchestrator",
			Summary:   fmt.Sprintf("exited %s after %dms", from, durationMs),
		}, now)
		o.appendLedger(p.AgentID, types.LedgerEntry{
			AgentID:   p.AgentID,
			EventType: types.LedgerPhaseEnter,
			Stage:     nextStage,
			Actor:     "orchestrator",
			Summary:   fmt.Sprintf("entered %s", nextStage),
		}, now)
		events = append(events, synthetic("autonomy.phase.exit", map[string]interface{}{"lane": "autonomy", "stage": string(from), "durationMs": durationMs}, now))
		events = append(events, synthetic("autonomy.phase.enter", map[string]interface{}{"lane": "autonomy", "stage": string(nextStage)}, now))
	}

	// Step 13: save, return.
	if err := o.Store.SaveState(state); err != nil {
		_ = o.Store.ReleaseLock(p.AgentID, token)
		return PrepareResult{}, fmt.Errorf("save state: %w", err)
	}

	return PrepareResult{
		State:           state,
		Events:          events,
		Drops:           drops,
		RemainingEvents: drainResult.Remaining,
		CycleStartedAt:  now,
		LockToken:       token,
	}, nil
}

func refreshBudgetWindow(state *types.AgentState, now time.Time) {
	today := dayKey(now)
	if state.Budget.DayKey != today {
		state.Budget.DayKey = today
		state.Budget.CyclesUsed = 0
		state.Budget.TokensUsed = 0
	}
}

// applyAutoResume implements spec.md §4.11 step 3. It returns the
// resumedReason synthetic-event payload value, or "" if no resume fired.
func applyAutoResume(state *types.AgentState, dayRolledOver bool, now time.Time) string {
	if !state.Paused {
		return ""
	}

	if state.PauseReason == types.PauseBudget {
		sameDayBudgetFresh := state.Budget.CyclesUsed == 0 && state.Budget.TokensUsed == 0
		if state.Safety.AutoResumeOnNewDayBudgetPause && (dayRolledOver || sameDayBudgetFresh) {
			clearPause(state)
			return "budget-window-rollover"
		}
	}

	if state.PauseReason == types.PauseErrors && state.PausedAt != nil {
		cooldown := time.Duration(state.Safety.ErrorPauseMinutes) * time.Minute
		if now.Sub(*state.PausedAt) >= cooldown {
			clearPause(state)
			return "error-cooldown-elapsed"
		}
	}

	return ""
}

func clearPause(state *types.AgentState) {
	state.Paused = false
	state.PauseReason = ""
	state.PausedAt = nil
}

func applyPause(state *types.AgentState, reason types.PauseReason, now time.Time) {
	state.Paused = true
	state.PauseReason = reason
	state.PausedAt = &now
}

func budgetExhausted(state *types.AgentState) bool {
	if state.Safety.DailyCycleBudget > 0 && state.Budget.CyclesUsed >= state.Safety.DailyCycleBudget {
		return true
	}
	if state.Safety.DailyTokenBudget > 0 && state.Budget.TokensUsed >= state.Safety.DailyTokenBudget {
		return true
	}
	return false
}

// runForgeAndCanary drives the Skill Forge (planner/synthesizer/
// verifier) and the canary evaluator according to the agent's current
// stage, per spec.md §4.11 step 9.
func (o *Orchestrator) runForgeAndCanary(ctx context.Context, agentID string, state *types.AgentState, workspaceDir string, events []types.Event, now time.Time) {
	aug := &state.Augmentation

	switch aug.Stage {
	case types.StageDiscover:
		signals := signal.Normalize(events)
		for _, sig := range signals {
			aug.Gaps = gap.Upsert(aug.Gaps, sig, now)
		}
	case types.StageDesign:
		_, span := telemetry.StartForgeSpan(ctx, agentID, "plan", "")
		aug.Candidates = forge.Plan(aug.Gaps, aug.Candidates, now)
		span.End()
	case types.StageSynthesize:
		_, span := telemetry.StartForgeSpan(ctx, agentID, "synthesize", "")
		if updated, err := forge.Synthesize(aug.Candidates, workspaceDir, now); err == nil {
			aug.Candidates = updated
		}
		span.End()
	case types.StageVerify:
		_, span := telemetry.StartForgeSpan(ctx, agentID, "verify", "")
		updated, reports := forge.Verify(aug.Candidates, workspaceDir)
		aug.Candidates = updated
		for _, r := range reports {
			if r.Passed {
				metrics.RecordCandidateVerified(agentID)
				continue
			}
			o.appendLedger(agentID, types.LedgerEntry{
				AgentID:   agentID,
				EventType: types.LedgerCandidateUpdate,
				Stage:     aug.Stage,
				Actor:     "forge-verifier",
				Summary:   fmt.Sprintf("candidate %s rejected", r.CandidateID),
			}, now)
		}
		span.End()
	case types.StageCanary:
		_, span := telemetry.StartCanarySpan(ctx, agentID, "")
		inputs := canary.DeriveFromCycles(state.RecentCycles)
		verdict := canary.Evaluate(inputs)
		latencyRegression := 0.0
		if inputs.BaselineLatencyP95Ms > 0 {
			latencyRegression = (inputs.LatencyP95Ms - inputs.BaselineLatencyP95Ms) / inputs.BaselineLatencyP95Ms * 100
		}
		if verdict.Regressed {
			aug.LastCanaryStatus = "regressed"
			canary.ApplyRollback(aug.Candidates)
			metrics.RecordRollback(agentID)
			o.appendLedger(agentID, types.LedgerEntry{
				AgentID:   agentID,
				EventType: types.LedgerRollback,
				Stage:     aug.Stage,
				Actor:     "canary",
				Summary:   verdict.Reason,
			}, now)
		} else {
			aug.LastCanaryStatus = "healthy"
			metrics.RecordPromotion(agentID)
			o.appendLedger(agentID, types.LedgerEntry{
				AgentID:   agentID,
				EventType: types.LedgerPromotion,
				Stage:     aug.Stage,
				Actor:     "canary",
				Summary:   "canary healthy",
			}, now)
		}
		telemetry.EndCanarySpan(span, aug.LastCanaryStatus, inputs.ErrorRate, latencyRegression)
	case types.StagePromote:
		score := evalpack.Score(evalpack.DefaultPack(), evalpack.State{
			VerifiedCandidates: countVerified(aug.Candidates),
			RecentErrorRate:    recentErrorRate(state),
			BlockedTasks:       countBlocked(state.Tasks),
		})
		aug.LastEvalScore = &score
		aug.LastEvalAt = &now
	}
}

func countVerified(candidates []*types.SkillCandidate) int {
	n := 0
	for _, c := range candidates {
		if c.Status == types.CandidateVerified {
			n++
		}
	}
	return n
}

func countBlocked(tasks []types.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == "blocked" {
			n++
		}
	}
	return n
}

// emitPolicyDenied records a policy_denied ledger entry and returns the
// matching autonomy.augmentation.policy.denied event for the caller to
// append to the in-flight events stream, per spec.md §4.8.
func (o *Orchestrator) emitPolicyDenied(agentID string, state *types.AgentState, attemptedStage types.Stage, reason string, now time.Time) types.Event {
	metrics.RecordPolicyDenial(agentID, reason)
	o.appendLedger(agentID, types.LedgerEntry{
		AgentID:   agentID,
		EventType: types.LedgerPolicyDenied,
		Stage:     state.Augmentation.Stage,
		Actor:     "policy",
		Summary:   fmt.Sprintf("denied transition to %s: %s", attemptedStage, reason),
	}, now)
	return synthetic("autonomy.augmentation.policy.denied", map[string]interface{}{
		"reason": reason,
		"stage":  string(attemptedStage),
	}, now)
}

func (o *Orchestrator) appendLedger(agentID string, entry types.LedgerEntry, now time.Time) {
	if o.Ledger == nil {
		return
	}
	_, _ = o.Ledger.Append(agentID, entry, now)
}
