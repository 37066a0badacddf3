/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package evalpack scores a scenario pack against current agent state.
// The weighted, clamped scoring style is grounded on the teacher's
// internal/safety/blastradius deterministic scorer, generalized from a
// single assessment into a scenario/step sweep (spec.md §4.9). Scenario
// packs are defined in YAML, the same library family the Skill Forge
// candidate manifests use.
package evalpack

import (
	"math"

	"gopkg.in/yaml.v3"
)

// Expectation is the predicted direction of one scenario step.
type Expectation string

const (
	ExpectImprove Expectation = "improve"
	ExpectDegrade Expectation = "degrade"
	ExpectNeutral Expectation = "neutral"
)

// Step is one weighted element of a scenario.
type Step struct {
	Type     string      `yaml:"type"`
	Expected Expectation `yaml:"expected"`
	Weight   float64     `yaml:"weight"`
}

// Scenario is a named, weighted sequence of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Pack is a scenario pack; spec.md §4.9 requires at least three named
// scenarios: baseline, adversarial, regression.
type Pack struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// ParsePack parses a YAML-encoded scenario pack.
func ParsePack(data []byte) (Pack, error) {
	var pack Pack
	err := yaml.Unmarshal(data, &pack)
	return pack, err
}

// DefaultPack returns the three-scenario pack spec.md §4.9 names, with a
// representative step set per scenario.
func DefaultPack() Pack {
	return Pack{Scenarios: []Scenario{
		{Name: "baseline", Steps: []Step{
			{Type: "cycle.ok", Expected: ExpectNeutral, Weight: 1},
		}},
		{Name: "adversarial", Steps: []Step{
			{Type: "policy.denied", Expected: ExpectImprove, Weight: 1},
			{Type: "canary.regressed", Expected: ExpectDegrade, Weight: 1},
		}},
		{Name: "regression", Steps: []Step{
			{Type: "latency.regression", Expected: ExpectDegrade, Weight: 1},
		}},
	}}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// State is the subset of agent state the scorer reads.
type State struct {
	VerifiedCandidates int
	RecentErrorRate    float64
	BlockedTasks       int
}

// ScoreScenario implements spec.md §4.9's per-scenario formula: a base
// term from current state, then a per-step adjustment.
func ScoreScenario(s Scenario, state State) float64 {
	base := 0.65 +
		math.Min(0.25, 0.06*float64(state.VerifiedCandidates)) -
		math.Min(0.35, 0.7*state.RecentErrorRate) -
		math.Min(0.2, 0.02*float64(state.BlockedTasks))
	base = clamp01(base)

	score := base
	for _, step := range s.Steps {
		switch step.Expected {
		case ExpectImprove:
			score += 0.03 * step.Weight
		case ExpectDegrade:
			score -= 0.03 * step.Weight
		case ExpectNeutral:
			score += 0.005 * step.Weight
		}
		score = clamp01(score)
	}
	return score
}

// Score returns the mean of every scenario's score.
func Score(pack Pack, state State) float64 {
	if len(pack.Scenarios) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range pack.Scenarios {
		total += ScoreScenario(s, state)
	}
	return total / float64(len(pack.Scenarios))
}
