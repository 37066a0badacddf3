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
	"strings"
	"time"

	"github.com/driftloop/autonomy/internal/metrics"
	"github.com/driftloop/autonomy/internal/shared/security"
	"github.com/driftloop/autonomy/internal/telemetry"
	"github.com/driftloop/autonomy/internal/types"
)

// Usage carries token consumption back from the caller's cycle logic.
type Usage struct {
	TokensUsed int64
}

// FinalizeParams is the input to Finalize.
type FinalizeParams struct {
	State          *types.AgentState
	Status         string // "ok", "error", "skipped"
	Summary        string
	Err            string
	Events         []types.Event
	Drops          DropCounts
	Remaining      int
	Usage          *Usage
	LockToken      string
	WorkspaceDir   string
	CycleStartedAt time.Time
	Now            time.Time
	// Ctx roots the finalize span. context.Background() is used if nil.
	Ctx context.Context
}

// Finalize runs spec.md §4.11's 5-step cycle-completion procedure and
// always releases the run-lock, even on error.
func (o *Orchestrator) Finalize(p FinalizeParams) error {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ctx := p.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	state := p.State

	_, span := telemetry.StartCycleSpan(ctx, state.AgentID, string(state.Augmentation.Stage))
	defer span.End()

	defer func() {
		_ = o.Store.ReleaseLock(state.AgentID, p.LockToken)
	}()

	// Step 1: record the cycle, update metrics and the ring buffer.
	durationMs := now.Sub(p.CycleStartedAt).Milliseconds()
	state.RecentCycles = append(state.RecentCycles, types.CycleRecord{
		StartedAt:  p.CycleStartedAt,
		DurationMs: durationMs,
		Status:     p.Status,
	})
	if len(state.RecentCycles) > types.MaxRecentCycles {
		state.RecentCycles = state.RecentCycles[len(state.RecentCycles)-types.MaxRecentCycles:]
	}

	state.Metrics.Cycles++
	switch p.Status {
	case "ok":
		state.Metrics.OK++
		state.Metrics.ConsecutiveErrors = 0
	case "error":
		state.Metrics.Error++
		state.Metrics.ConsecutiveErrors++
		state.Metrics.LastError = p.Err
	case "skipped":
		state.Metrics.Skipped++
	}
	state.Metrics.LastCycleAt = &now

	tokensUsed := int64(0)
	if p.Usage != nil {
		tokensUsed = p.Usage.TokensUsed
	}
	metrics.RecordCycleComplete(state.AgentID, p.Status, time.Duration(durationMs)*time.Millisecond, tokensUsed)
	metrics.SetQueueDepth(state.AgentID, p.Remaining)

	// Step 2: add usage unless skipped.
	if p.Status != "skipped" {
		state.Budget.CyclesUsed++
		if p.Usage != nil {
			state.Budget.TokensUsed += p.Usage.TokensUsed
		}
	}

	// Step 3: consecutive-error auto-pause.
	if state.Metrics.ConsecutiveErrors >= state.Safety.MaxConsecutiveErrors && !state.Paused {
		applyPause(state, types.PauseErrors, now)
	}

	// Step 4: append a human-readable log block.
	if p.WorkspaceDir != "" {
		block := renderLogBlock(p, state, durationMs, now)
		if err := appendLogBlock(p.WorkspaceDir, state, block); err != nil {
			return fmt.Errorf("append log block: %w", err)
		}
	}

	// Step 5: save.
	return o.Store.SaveState(state)
}

func renderLogBlock(p FinalizeParams, state *types.AgentState, durationMs int64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s\n\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- status: %s\n", p.Status)
	if p.Summary != "" {
		fmt.Fprintf(&b, "- summary: %s\n", security.SanitizeActionResult(p.Summary, 0))
	}
	if p.Err != "" {
		fmt.Fprintf(&b, "- error: %s\n", security.SanitizeActionResult(p.Err, 0))
	}
	fmt.Fprintf(&b, "- duration: %dms\n", durationMs)
	fmt.Fprintf(&b, "- events processed: %d\n", len(p.Events))
	fmt.Fprintf(&b, "- dropped: duplicates=%d invalid=%d overflow=%d\n", p.Drops.Duplicates, p.Drops.Invalid, p.Drops.Overflow)
	fmt.Fprintf(&b, "- remaining queue depth: %d\n", p.Remaining)
	fmt.Fprintf(&b, "- budget: %d/%d cycles, %d/%d tokens\n",
		state.Budget.CyclesUsed, state.Safety.DailyCycleBudget,
		state.Budget.TokensUsed, state.Safety.DailyTokenBudget)
	for _, ev := range p.Events {
		fmt.Fprintf(&b, "  - event: %s (%s)\n", ev.Type, ev.Source)
		if fields := stringPayloadFields(ev.Payload); len(fields) > 0 {
			for k, v := range security.SanitizeMap(fields) {
				fmt.Fprintf(&b, "      %s: %s\n", k, v)
			}
		}
	}
	return b.String()
}

// stringPayloadFields narrows an event payload to its string-valued
// entries, the only ones free-text sanitization can meaningfully apply to.
func stringPayloadFields(payload map[string]interface{}) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
