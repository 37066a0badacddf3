/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"fmt"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

func synthetic(eventType string, payload map[string]interface{}, now time.Time) types.Event {
	return types.Event{
		ID:     "synthetic-" + eventType + "-" + now.UTC().Format("20060102T150405.000000000"),
		Source: types.SourceCron,
		Type:   eventType,
		Ts:     now,
		Payload: payload,
	}
}

// isoWeekKey renders the ISO-8601 year-week of t, used to dedupe weekly
// review events across cycles.
func isoWeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// buildSyntheticEvents appends spec.md §4.11 step 8's synthetic events:
// one cron.tick; an autonomy.resume when resumedReason is non-empty; a
// queue.overflow/invalid event per nonzero drop count; daily/weekly
// review events gated by dedup keys in state.Review; and per-task stale
// signals deduped per day via state.TaskSignals.
func buildSyntheticEvents(state *types.AgentState, drops DropCounts, resumedReason string, now time.Time) []types.Event {
	var events []types.Event

	events = append(events, synthetic("cron.tick", nil, now))

	if resumedReason != "" {
		events = append(events, synthetic("autonomy.resume", map[string]interface{}{"reason": resumedReason}, now))
	}

	if drops.Overflow > 0 {
		events = append(events, synthetic("autonomy.queue.overflow", map[string]interface{}{"count": drops.Overflow}, now))
	}
	if drops.Invalid > 0 {
		events = append(events, synthetic("autonomy.queue.invalid", map[string]interface{}{"count": drops.Invalid}, now))
	}

	today := dayKey(now)
	if state.Safety.EmitDailyReviewEvents && state.Review.LastDailyKey != today {
		events = append(events, synthetic("autonomy.review.daily", nil, now))
		state.Review.LastDailyKey = today
	}

	week := isoWeekKey(now)
	if state.Safety.EmitWeeklyReviewEvents && state.Review.LastWeeklyKey != week {
		events = append(events, synthetic("autonomy.review.weekly", nil, now))
		state.Review.LastWeeklyKey = week
	}

	staleHours := state.Safety.StaleTaskHours
	if staleHours <= 0 {
		staleHours = 24
	}
	for _, task := range state.Tasks {
		if task.Status != "blocked" && task.Status != "in-progress" {
			continue
		}
		if now.Sub(task.UpdatedAt) < time.Duration(staleHours)*time.Hour {
			continue
		}
		dedupeKey := "stale:" + task.ID + ":" + today
		if state.TaskSignals[dedupeKey] == today {
			continue
		}
		state.TaskSignals[dedupeKey] = today
		events = append(events, synthetic("autonomy.task.stale."+task.Status, map[string]interface{}{"taskId": task.ID}, now))
	}

	return events
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
