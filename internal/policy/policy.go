/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package policy evaluates allow/deny decisions for stage transitions and
// actions, adapted from the teacher's Action Sheet engine
// (internal/engine/engine.go): glob-based deny/allow lists, an
// execution-class gate, and an operator-approval escape hatch, narrowed
// to the five-rule pipeline spec.md §4.5 specifies.
package policy

import (
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/driftloop/autonomy/internal/types"
)

// Config holds the operator-configured allow/deny lists and approval
// requirements for one agent's policy runtime.
type Config struct {
	DenyList                       []string
	AllowList                      []string
	DestructiveRequiresApproval    bool
	ReversibleWriteRequiresApproval bool
	PolicyVersion                  int
	ApprovalTTL                    time.Duration
}

// DefaultConfig matches spec.md §4.5's stated defaults: destructive
// actions require approval, reversible writes do not.
func DefaultConfig() Config {
	return Config{
		DestructiveRequiresApproval:     true,
		ReversibleWriteRequiresApproval: false,
		PolicyVersion:                   1,
		ApprovalTTL:                     24 * time.Hour,
	}
}

// ApprovalLevel names the strength of authorization attached to a decision.
type ApprovalLevel string

const (
	ApprovalNone      ApprovalLevel = "none"
	ApprovalGranted   ApprovalLevel = "granted"
	ApprovalRequired  ApprovalLevel = "required"
)

// EvaluateParams is the input to Evaluate.
type EvaluateParams struct {
	Action           string
	ExecutionClass   types.ExecutionClass
	Config           Config
	ApprovedByOperator bool
}

// Decision is the result of one policy evaluation.
type Decision struct {
	Allowed        bool
	Reason         string
	ApprovalLevel  ApprovalLevel
	PolicyVersion  int
	ExecutionClass types.ExecutionClass
}

// Evaluate runs spec.md §4.5's first-match-wins rule chain.
func Evaluate(p EvaluateParams, log logr.Logger) Decision {
	base := Decision{ExecutionClass: p.ExecutionClass, PolicyVersion: p.Config.PolicyVersion, ApprovalLevel: ApprovalNone}

	if matchesAny(p.Config.DenyList, p.Action) {
		d := base
		d.Allowed = false
		d.Reason = "action matches explicit deny list"
		log.V(1).Info("policy denied", "action", p.Action, "reason", d.Reason)
		return d
	}

	if p.ExecutionClass == types.ExecutionReadOnly && matchesAny(p.Config.AllowList, p.Action) {
		d := base
		d.Allowed = true
		d.Reason = "action matches explicit allow list"
		return d
	}

	if p.ExecutionClass == types.ExecutionDestructive && p.Config.DestructiveRequiresApproval && !p.ApprovedByOperator {
		d := base
		d.Allowed = false
		d.Reason = "destructive action requires operator approval"
		d.ApprovalLevel = ApprovalRequired
		log.V(1).Info("policy denied", "action", p.Action, "reason", d.Reason)
		return d
	}

	if p.ExecutionClass == types.ExecutionReversibleWrite && p.Config.ReversibleWriteRequiresApproval && !p.ApprovedByOperator {
		d := base
		d.Allowed = false
		d.Reason = "reversible write requires operator approval"
		d.ApprovalLevel = ApprovalRequired
		log.V(1).Info("policy denied", "action", p.Action, "reason", d.Reason)
		return d
	}

	d := base
	d.Allowed = true
	d.Reason = "no applicable deny rule"
	if p.ApprovedByOperator {
		d.ApprovalLevel = ApprovalGranted
	}
	return d
}

func matchesAny(patterns []string, action string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, action); err == nil && ok {
			return true
		}
		if pattern == action {
			return true
		}
	}
	return false
}
