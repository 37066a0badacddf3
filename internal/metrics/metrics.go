/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the autonomy engine.
//
// Metric naming follows Prometheus conventions:
//   - autonomy_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registry cmd/autonomyd serves on /metrics. Kept
// package-scoped, mirroring the teacher's reliance on a single shared
// registry rather than one per component.
var Registry = prometheus.NewRegistry()

var (
	// CyclesTotal counts orchestrator cycles by agent and terminal status.
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_cycles_total",
			Help: "Total number of autonomy cycles by agent and status.",
		},
		[]string{"agent", "status"},
	)

	// CycleDurationSeconds is a histogram of cycle duration by agent.
	CycleDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autonomy_cycle_duration_seconds",
			Help:    "Duration of autonomy cycles in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"agent"},
	)

	// TokensUsedTotal counts tokens consumed by agent.
	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_tokens_used_total",
			Help: "Total tokens consumed by autonomy cycles.",
		},
		[]string{"agent"},
	)

	// StageTransitionsTotal counts phase-machine transitions by agent,
	// origin stage, and destination stage.
	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_stage_transitions_total",
			Help: "Total augmentation stage transitions.",
		},
		[]string{"agent", "from", "to"},
	)

	// PolicyDenialsTotal counts policy denials by agent and reason.
	PolicyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_policy_denials_total",
			Help: "Total policy evaluations that resulted in denial.",
		},
		[]string{"agent", "reason"},
	)

	// CandidatesVerifiedTotal counts candidates reaching verified status.
	CandidatesVerifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_candidates_verified_total",
			Help: "Total skill candidates that passed verification.",
		},
		[]string{"agent"},
	)

	// PromotionsTotal counts successful promotions by agent.
	PromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_promotions_total",
			Help: "Total successful skill candidate promotions.",
		},
		[]string{"agent"},
	)

	// RollbacksTotal counts canary-triggered rollbacks by agent.
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autonomy_rollbacks_total",
			Help: "Total canary-triggered rollbacks.",
		},
		[]string{"agent"},
	)

	// QueueDepth is the number of events remaining in the queue after drain.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autonomy_queue_depth",
			Help: "Events remaining in the queue after the last drain.",
		},
		[]string{"agent"},
	)

	// ActiveCycles is the number of currently executing cycles.
	ActiveCycles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autonomy_active_cycles",
			Help: "Number of autonomy cycles currently executing.",
		},
	)
)

func init() {
	Registry.MustRegister(
		CyclesTotal,
		CycleDurationSeconds,
		TokensUsedTotal,
		StageTransitionsTotal,
		PolicyDenialsTotal,
		CandidatesVerifiedTotal,
		PromotionsTotal,
		RollbacksTotal,
		QueueDepth,
		ActiveCycles,
	)
}

// RecordCycleComplete records metrics for a completed cycle.
func RecordCycleComplete(agent, status string, duration time.Duration, tokensUsed int64) {
	CyclesTotal.WithLabelValues(agent, status).Inc()
	CycleDurationSeconds.WithLabelValues(agent).Observe(duration.Seconds())
	if tokensUsed > 0 {
		TokensUsedTotal.WithLabelValues(agent).Add(float64(tokensUsed))
	}
}

// RecordStageTransition records one phase-machine move.
func RecordStageTransition(agent, from, to string) {
	StageTransitionsTotal.WithLabelValues(agent, from, to).Inc()
}

// RecordPolicyDenial records a single policy denial.
func RecordPolicyDenial(agent, reason string) {
	PolicyDenialsTotal.WithLabelValues(agent, reason).Inc()
}

// RecordCandidateVerified records a single verified candidate.
func RecordCandidateVerified(agent string) {
	CandidatesVerifiedTotal.WithLabelValues(agent).Inc()
}

// RecordPromotion records a single successful promotion.
func RecordPromotion(agent string) {
	PromotionsTotal.WithLabelValues(agent).Inc()
}

// RecordRollback records a single canary-triggered rollback.
func RecordRollback(agent string) {
	RollbacksTotal.WithLabelValues(agent).Inc()
}

// SetQueueDepth records the residual queue depth after a drain.
func SetQueueDepth(agent string, depth int) {
	QueueDepth.WithLabelValues(agent).Set(float64(depth))
}
