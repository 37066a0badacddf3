/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// autonomyApprovalAppliedEvent is emitted when a granted approval event
// from the queue is consumed into state.Approvals (spec.md §4.5).
const autonomyApprovalAppliedEvent = "autonomy.approval.applied"

// ConsumeGrant looks for an `autonomy.approval.grant` event targeting
// action, and if found, records the approval and returns the synthetic
// "applied" event type to emit alongside it. The grant event itself is
// the caller's to remove from the admitted batch; ConsumeGrant only
// mutates state.
func ConsumeGrant(state *types.AgentState, events []types.Event, action string, now time.Time, ttl time.Duration) (applied bool, emittedType string) {
	for _, ev := range events {
		if ev.Type != "autonomy.approval.grant" {
			continue
		}
		target, _ := ev.Payload["action"].(string)
		if target != action {
			continue
		}
		source, _ := ev.Payload["source"].(string)
		if source == "" {
			source = string(ev.Source)
		}
		if state.Approvals == nil {
			state.Approvals = map[string]types.Approval{}
		}
		state.Approvals[action] = types.Approval{
			Action:     action,
			ApprovedAt: now,
			ExpiresAt:  now.Add(ttl),
			Source:     source,
		}
		return true, autonomyApprovalAppliedEvent
	}
	return false, ""
}

// IsApproved reports whether action currently carries a live, unexpired
// approval, and consumes it (removing the entry) when it does — an
// approval authorizes exactly one transition.
func IsApproved(state *types.AgentState, action string, now time.Time) bool {
	approval, ok := state.Approvals[action]
	if !ok {
		return false
	}
	if approval.ExpiresAt.Before(now) {
		delete(state.Approvals, action)
		return false
	}
	delete(state.Approvals, action)
	return true
}
