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
	"os"
	"path/filepath"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

const goalsTemplate = `# Autonomy goals

This file is operator-visible and operator-editable. Add one goal per
line below; the agent reads it as context but does not modify it.
`

const tasksTemplate = `# Autonomy tasks

Tracked automatically by the agent. Tasks aged past the configured
stale threshold surface as autonomy.task.stale.<status> signals.
`

func logTemplate(agentID string, now time.Time) string {
	return fmt.Sprintf("# Autonomy log — %s\n\nCreated %s\n", agentID, now.UTC().Format(time.RFC3339))
}

// ensureWorkspaceFiles creates the goals/tasks/log files under
// workspaceDir with a fixed template if they do not already exist,
// per spec.md §4.11 step 7.
func ensureWorkspaceFiles(workspaceDir string, state *types.AgentState, now time.Time) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	files := []struct {
		name     string
		template string
	}{
		{state.GoalsFile, goalsTemplate},
		{state.TasksFile, tasksTemplate},
		{state.LogFile, logTemplate(state.AgentID, now)},
	}

	for _, f := range files {
		path := filepath.Join(workspaceDir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(f.template), 0o644); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil
}

// appendLogBlock writes one human-readable cycle summary block to the
// workspace log file, per spec.md §6.
func appendLogBlock(workspaceDir string, state *types.AgentState, block string) error {
	path := filepath.Join(workspaceDir, state.LogFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append log file: %w", err)
	}
	return nil
}
