/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package signal classifies ingested events into discovery signals: a
// category, severity, and confidence the gap registry can rank against.
// The prefix/substring table here is modeled on the teacher's
// classifyTier/classifyFromToolName heuristics in internal/engine, moved
// from tool-name classification to event-type classification.
package signal

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/driftloop/autonomy/internal/shared/security"
	"github.com/driftloop/autonomy/internal/types"
)

// rule is one row of the fixed classification table. Prefix is matched
// against the event type; Contains entries are substring checks applied
// when no prefix rule matches.
type rule struct {
	prefix     string
	contains   []string
	category   types.GapCategory
	severity   float64
	confidence float64
}

var prefixRules = []rule{
	{prefix: "queue.", category: types.CategoryReliability, severity: 85, confidence: 0.9},
	{prefix: "task.stale.", category: types.CategoryCapability, severity: 70, confidence: 0.85},
	{prefix: "review.", category: types.CategoryQuality, severity: 40, confidence: 0.6},
}

var containsRules = []rule{
	{contains: []string{"security", "policy"}, category: types.CategorySafety, severity: 90, confidence: 0.8},
	{contains: []string{"timeout", "error", "failed"}, category: types.CategoryReliability, severity: 75, confidence: 0.8},
	{contains: []string{"latency"}, category: types.CategoryLatency, severity: 65, confidence: 0.65},
	{contains: []string{"cost", "budget"}, category: types.CategoryCost, severity: 55, confidence: 0.7},
}

var fallback = rule{category: types.CategoryUnknown, severity: 30, confidence: 0.4}

// classify maps one event to its table-driven category/severity/
// confidence row.
func classify(eventType string) rule {
	lower := strings.ToLower(eventType)
	for _, r := range prefixRules {
		if strings.HasPrefix(lower, r.prefix) {
			return r
		}
	}
	for _, r := range containsRules {
		for _, sub := range r.contains {
			if strings.Contains(lower, sub) {
				return r
			}
		}
	}
	return fallback
}

// Normalize converts a batch of events into signals, returning at most
// one signal per dedupe key.
func Normalize(events []types.Event) []types.Signal {
	seen := make(map[string]bool, len(events))
	signals := make([]types.Signal, 0, len(events))

	for _, ev := range events {
		key := dedupeKeyFor(ev)
		if seen[key] {
			continue
		}
		seen[key] = true

		r := classify(ev.Type)
		sig := types.Signal{
			ID:         sigID(key),
			Key:        key,
			Title:      titleFor(ev),
			Category:   r.category,
			Severity:   r.severity,
			Confidence: r.confidence,
			Source:     string(ev.Source),
			Ts:         ev.Ts,
		}
		if payloadLeaksSecret(ev) {
			sig.Category = types.CategorySafety
			if sig.Severity < leakedSecretSeverity {
				sig.Severity = leakedSecretSeverity
			}
		}
		signals = append(signals, sig)
	}
	return signals
}

// leakedSecretSeverity is the severity floor applied when an event's
// payload trips security.ContainsSecret: credential leakage always
// escalates to a safety-category gap regardless of the event's type.
const leakedSecretSeverity = 95

func payloadLeaksSecret(ev types.Event) bool {
	for _, v := range ev.Payload {
		if s, ok := v.(string); ok && security.ContainsSecret(s) {
			return true
		}
	}
	return false
}

func dedupeKeyFor(ev types.Event) string {
	if ev.DedupeKey != "" {
		return ev.DedupeKey
	}
	if ev.ID != "" {
		return ev.ID
	}
	return string(ev.Source) + ":" + ev.Type
}

func sigID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// titleFor prefers payload.title when it is a non-empty string, else
// turns the dotted event type into a space-separated phrase.
func titleFor(ev types.Event) string {
	if ev.Payload != nil {
		if raw, ok := ev.Payload["title"]; ok {
			if title, ok := raw.(string); ok && strings.TrimSpace(title) != "" {
				return security.Sanitize(title)
			}
		}
	}
	return strings.ReplaceAll(ev.Type, ".", " ")
}
