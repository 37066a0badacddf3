/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the autonomy engine.
//
// Custom span attributes use the `autonomy.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "driftloop.io/autonomy"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // always plaintext; this explicit option takes precedence over OTEL_EXPORTER_OTLP_INSECURE
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("autonomy-engine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartCycleSpan creates the parent span for one orchestrator cycle.
func StartCycleSpan(ctx context.Context, agent string, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomy.cycle",
		trace.WithAttributes(
			attribute.String("autonomy.agent", agent),
			attribute.String("autonomy.stage", stage),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartPhaseTransitionSpan creates a child span for one phase-machine move.
func StartPhaseTransitionSpan(ctx context.Context, agent, from, to string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomy.phase_transition",
		trace.WithAttributes(
			attribute.String("autonomy.agent", agent),
			attribute.String("autonomy.from_stage", from),
			attribute.String("autonomy.to_stage", to),
		),
	)
}

// EndPhaseTransitionSpan enriches the transition span with its execution class.
func EndPhaseTransitionSpan(span trace.Span, executionClass string) {
	span.SetAttributes(attribute.String("autonomy.execution_class", executionClass))
	span.End()
}

// StartPolicyEvalSpan creates a child span for a policy decision.
func StartPolicyEvalSpan(ctx context.Context, agent, tool, executionClass string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomy.policy_eval",
		trace.WithAttributes(
			attribute.String("autonomy.agent", agent),
			attribute.String("autonomy.tool", tool),
			attribute.String("autonomy.execution_class", executionClass),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndPolicyEvalSpan enriches the policy span with its decision.
func EndPolicyEvalSpan(span trace.Span, decision string, requiresApproval bool) {
	span.SetAttributes(
		attribute.String("autonomy.decision", decision),
		attribute.Bool("autonomy.requires_approval", requiresApproval),
	)
	span.End()
}

// StartForgeSpan creates a child span for a skill forge stage (plan, synthesize, verify, publish).
func StartForgeSpan(ctx context.Context, agent, forgeStage, candidateID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomy.forge."+forgeStage,
		trace.WithAttributes(
			attribute.String("autonomy.agent", agent),
			attribute.String("autonomy.candidate_id", candidateID),
		),
	)
}

// StartCanarySpan creates a child span for a canary evaluation.
func StartCanarySpan(ctx context.Context, agent, candidateID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autonomy.canary",
		trace.WithAttributes(
			attribute.String("autonomy.agent", agent),
			attribute.String("autonomy.candidate_id", candidateID),
		),
	)
}

// EndCanarySpan enriches the canary span with its verdict.
func EndCanarySpan(span trace.Span, verdict string, errorRate, latencyRegression float64) {
	span.SetAttributes(
		attribute.String("autonomy.verdict", verdict),
		attribute.Float64("autonomy.error_rate", errorRate),
		attribute.Float64("autonomy.latency_regression", latencyRegression),
	)
	span.End()
}
