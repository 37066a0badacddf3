/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package store

import (
	"path/filepath"
	"regexp"
	"strings"
)

const stateRootEnv = "AUTONOMY_STATE_ROOT"

var normalizePattern = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeAgentID lowercases and strips anything outside [a-z0-9_-],
// collapsing runs into a single hyphen, so it is always safe as a
// directory component.
func NormalizeAgentID(agentID string) string {
	lower := strings.ToLower(strings.TrimSpace(agentID))
	normalized := normalizePattern.ReplaceAllString(lower, "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		normalized = "agent"
	}
	return normalized
}

func (s *Store) agentDir(agentID string) string {
	return filepath.Join(s.root, NormalizeAgentID(agentID))
}

func (s *Store) statePath(agentID string) string  { return filepath.Join(s.agentDir(agentID), "state.json") }
func (s *Store) backupPath(agentID string) string { return filepath.Join(s.agentDir(agentID), "state.backup.json") }
func (s *Store) eventsPath(agentID string) string { return filepath.Join(s.agentDir(agentID), "events.jsonl") }
func (s *Store) ledgerPath(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "augmentation-ledger.jsonl")
}
func (s *Store) lockPath(agentID string) string { return filepath.Join(s.agentDir(agentID), "run.lock") }
