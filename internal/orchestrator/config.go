/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package orchestrator binds the store, signal normalizer, gap registry,
// phase machine, policy runtime, Skill Forge, canary evaluator, and
// long-horizon eval into the Prepare/Finalize cycle contract spec.md
// §4.11 and §6 describe. Grounded on the teacher's
// internal/controlplane/jobs/scheduler.go for the prepare-run-finalize
// shape, generalized from a single LLM-run invocation to the
// nine-stage augmentation cycle.
package orchestrator

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/driftloop/autonomy/internal/ledger"
	"github.com/driftloop/autonomy/internal/policy"
	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/types"
)

// Config carries spec.md §6's "explicit config field" overrides. Every
// field is a pointer so callers can distinguish "use the stored/default
// value" from "set this value", replacing the teacher's ad-hoc optional
// bags with a single partial-overrides record (spec.md §9).
type Config struct {
	Mission *string

	GoalsFile *string
	TasksFile *string
	LogFile   *string

	MaxActionsPerRun    *int
	DedupeWindowMinutes *int
	MaxQueuedEvents     *int

	DailyTokenBudget *int64
	DailyCycleBudget *int

	MaxConsecutiveErrors          *int
	AutoPauseOnBudgetExhausted    *bool
	AutoResumeOnNewDayBudgetPause *bool
	ErrorPauseMinutes             *int
	StaleTaskHours                *int
	EmitDailyReviewEvents         *bool
	EmitWeeklyReviewEvents        *bool

	Paused *bool
}

// GateConfig holds the promotion-gate thresholds spec.md §4.8 names,
// with its stated defaults.
type GateConfig struct {
	MinimumRecentCycles int
	MaximumErrorRate    float64
	MinimumEvalScore    float64
}

// DefaultGateConfig matches spec.md §4.8's stated defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{MinimumRecentCycles: 3, MaximumErrorRate: 0.2, MinimumEvalScore: 0.6}
}

// applyConfig overwrites state tunables with any explicit config field,
// per spec.md §4.11 step 1. Fields left nil on cfg are untouched.
func applyConfig(state *types.AgentState, cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Mission != nil {
		state.Mission = *cfg.Mission
	}
	if cfg.GoalsFile != nil {
		state.GoalsFile = *cfg.GoalsFile
	}
	if cfg.TasksFile != nil {
		state.TasksFile = *cfg.TasksFile
	}
	if cfg.LogFile != nil {
		state.LogFile = *cfg.LogFile
	}
	if cfg.MaxActionsPerRun != nil {
		state.MaxActionsPerRun = *cfg.MaxActionsPerRun
	}
	if cfg.DedupeWindowMinutes != nil {
		state.DedupeWindowMs = int64(*cfg.DedupeWindowMinutes) * 60 * 1000
	}
	if cfg.MaxQueuedEvents != nil {
		state.MaxQueuedEvents = *cfg.MaxQueuedEvents
	}
	if cfg.DailyTokenBudget != nil {
		state.Safety.DailyTokenBudget = *cfg.DailyTokenBudget
	}
	if cfg.DailyCycleBudget != nil {
		state.Safety.DailyCycleBudget = *cfg.DailyCycleBudget
	}
	if cfg.MaxConsecutiveErrors != nil {
		state.Safety.MaxConsecutiveErrors = *cfg.MaxConsecutiveErrors
	}
	if cfg.AutoPauseOnBudgetExhausted != nil {
		state.Safety.AutoPauseOnBudgetExhausted = *cfg.AutoPauseOnBudgetExhausted
	}
	if cfg.AutoResumeOnNewDayBudgetPause != nil {
		state.Safety.AutoResumeOnNewDayBudgetPause = *cfg.AutoResumeOnNewDayBudgetPause
	}
	if cfg.ErrorPauseMinutes != nil {
		state.Safety.ErrorPauseMinutes = *cfg.ErrorPauseMinutes
	}
	if cfg.StaleTaskHours != nil {
		state.Safety.StaleTaskHours = *cfg.StaleTaskHours
	}
	if cfg.EmitDailyReviewEvents != nil {
		state.Safety.EmitDailyReviewEvents = *cfg.EmitDailyReviewEvents
	}
	if cfg.EmitWeeklyReviewEvents != nil {
		state.Safety.EmitWeeklyReviewEvents = *cfg.EmitWeeklyReviewEvents
	}
	if cfg.Paused != nil {
		state.Paused = *cfg.Paused
	}
}

// defaultsFromConfig seeds store.Defaults for a brand-new agent from the
// incoming config, so first-ever Prepare and steady-state Prepare apply
// the same override semantics.
func defaultsFromConfig(cfg *Config) store.Defaults {
	d := store.Defaults{}
	if cfg == nil {
		return d
	}
	if cfg.Mission != nil {
		d.Mission = *cfg.Mission
	}
	if cfg.GoalsFile != nil {
		d.GoalsFile = *cfg.GoalsFile
	}
	if cfg.TasksFile != nil {
		d.TasksFile = *cfg.TasksFile
	}
	if cfg.LogFile != nil {
		d.LogFile = *cfg.LogFile
	}
	if cfg.MaxActionsPerRun != nil {
		d.MaxActionsPerRun = *cfg.MaxActionsPerRun
	}
	if cfg.DedupeWindowMinutes != nil {
		d.DedupeWindowMs = int64(*cfg.DedupeWindowMinutes) * 60 * 1000
	}
	if cfg.MaxQueuedEvents != nil {
		d.MaxQueuedEvents = *cfg.MaxQueuedEvents
	}
	return d
}

// Orchestrator is the bound set of components one Prepare/Finalize cycle
// exercises for every agent sharing this process.
type Orchestrator struct {
	Store        *store.Store
	Ledger       *ledger.Ledger
	Log          logr.Logger
	PolicyConfig policy.Config
	GateConfig   GateConfig
	ApprovalTTL  time.Duration
}

// New builds an Orchestrator with spec.md's stated policy and gate
// defaults. l may be nil, in which case ledger entries are skipped
// (useful for callers that only want the phase/policy/canary logic).
func New(st *store.Store, l *ledger.Ledger, log logr.Logger) *Orchestrator {
	return &Orchestrator{
		Store:        st,
		Ledger:       l,
		Log:          log,
		PolicyConfig: policy.DefaultConfig(),
		GateConfig:   DefaultGateConfig(),
		ApprovalTTL:  24 * time.Hour,
	}
}
