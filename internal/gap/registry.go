/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package gap maintains the ranked capability-gap set a discovery signal
// upserts into. Scoring follows the weighted, clamped style of the
// teacher's blast-radius scorer (internal/safety/blastradius), applied
// here to gap freshness/severity/confidence instead of action risk.
package gap

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/driftloop/autonomy/internal/shared/security"
	"github.com/driftloop/autonomy/internal/types"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func gapID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Upsert applies one signal to the gap set: updating the gap with the
// same key in place (whatever its status), or creating a new one, then returns the re-scored, re-sorted,
// capped gap list.
func Upsert(gaps []*types.Gap, sig types.Signal, now time.Time) []*types.Gap {
	byKey := make(map[string]*types.Gap, len(gaps))
	for _, g := range gaps {
		byKey[g.Key] = g
	}

	if existing, ok := byKey[sig.Key]; ok {
		existing.Title = sig.Title
		existing.Category = sig.Category
		existing.LastSource = sig.Source
		existing.Occurrences++
		if sig.Ts.After(existing.LastSeenAt) {
			existing.LastSeenAt = sig.Ts
		}
		existing.Severity = 0.65*existing.Severity + 0.35*sig.Severity
		existing.Confidence = 0.7*existing.Confidence + 0.3*sig.Confidence
		existing.Evidence = appendEvidence(existing.Evidence, sig.Title)
	} else {
		g := &types.Gap{
			ID:          gapID(sig.Key),
			Key:         sig.Key,
			Title:       sig.Title,
			Category:    sig.Category,
			Status:      types.GapOpen,
			Severity:    sig.Severity,
			Confidence:  sig.Confidence,
			Occurrences: 1,
			FirstSeenAt: sig.Ts,
			LastSeenAt:  sig.Ts,
			LastSource:  sig.Source,
			Evidence:    appendEvidence(nil, sig.Title),
		}
		gaps = append(gaps, g)
		byKey[g.Key] = g
	}

	for _, g := range gaps {
		g.Score = Score(g, now)
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Score != gaps[j].Score {
			return gaps[i].Score > gaps[j].Score
		}
		if !gaps[i].LastSeenAt.Equal(gaps[j].LastSeenAt) {
			return gaps[i].LastSeenAt.After(gaps[j].LastSeenAt)
		}
		return gaps[i].Key < gaps[j].Key
	})

	if len(gaps) > types.MaxGaps {
		gaps = gaps[:types.MaxGaps]
	}
	return gaps
}

func appendEvidence(evidence []string, item string) []string {
	if item == "" {
		return evidence
	}
	evidence = append(evidence, security.Sanitize(item))
	if len(evidence) > types.MaxEvidencePerGap {
		evidence = evidence[len(evidence)-types.MaxEvidencePerGap:]
	}
	return evidence
}

// Score computes spec.md §4.3's composite: severity, confidence,
// freshness, and occurrence count, each weighted and clamped.
func Score(g *types.Gap, now time.Time) int {
	freshnessHours := now.Sub(g.LastSeenAt).Hours()
	freshnessTerm := clamp(24-freshnessHours, 0, 24)
	occurrenceTerm := math.Min(20, float64(g.Occurrences))

	score := 0.55*g.Severity + 0.25*g.Confidence*100 + 0.2*freshnessTerm + 0.5*occurrenceTerm
	return int(math.Round(score))
}
