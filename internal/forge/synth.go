/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftloop/autonomy/internal/types"
)

// maxSynthesizedPerCall bounds how many candidates the synthesizer writes
// markdown for in one call (spec.md §4.6).
const maxSynthesizedPerCall = 3

// SectionPurpose, SectionSafety, and SectionVerification are the three
// required headers the verifier checks for literal presence.
const (
	SectionPurpose      = "## Purpose"
	SectionSafety       = "## Safety constraints"
	SectionVerification = "## Verification checklist"
)

// GeneratedPath returns the markdown path for one candidate under the
// agent workspace, matching spec.md §4.6's fixed layout.
func GeneratedPath(workspaceDir, name string) string {
	return filepath.Join(workspaceDir, "skills", "autonomy-generated", slug(name)+".md")
}

// render produces the candidate's markdown body. Byte-identical for
// byte-identical inputs, which is what idempotence requires.
func render(c *types.SkillCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Name)
	fmt.Fprintf(&b, "%s\n\n%s\n\n", SectionPurpose, c.Intent)

	fmt.Fprintf(&b, "%s\n\n", SectionSafety)
	for _, constraint := range c.Safety.Constraints {
		fmt.Fprintf(&b, "- %s\n", constraint)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s\n\n", SectionVerification)
	for _, test := range c.Tests {
		fmt.Fprintf(&b, "- [ ] %s\n", test)
	}
	b.WriteString("\n")

	b.WriteString("## Operational guidance\n\n")
	fmt.Fprintf(&b, "Execution class: %s. Source gap: %s.\n", c.Safety.ExecutionClass, c.SourceGapID)

	return b.String()
}

// Synthesize writes markdown for up to maxSynthesizedPerCall candidate/
// planned entries, moving each `candidate` entry to `planned` with a fresh
// updatedAt; entries already `planned` keep their updatedAt. Writes
// are idempotent: an unchanged candidate against an unchanged file on
// disk does not rewrite it.
func Synthesize(candidates []*types.SkillCandidate, workspaceDir string, now time.Time) ([]*types.SkillCandidate, error) {
	processed := 0
	for _, c := range candidates {
		if processed >= maxSynthesizedPerCall {
			break
		}
		if c.Status != types.CandidateCandidate && c.Status != types.CandidatePlanned {
			continue
		}

		path := GeneratedPath(workspaceDir, c.Name)
		body := render(c)

		if err := writeIfChanged(path, body); err != nil {
			return candidates, fmt.Errorf("synthesize %s: %w", c.Name, err)
		}

		if c.Status != types.CandidatePlanned {
			c.Status = types.CandidatePlanned
			c.UpdatedAt = now
		}
		processed++
	}
	return candidates, nil
}

func writeIfChanged(path, body string) error {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == body {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	return os.WriteFile(path, []byte(body), 0o644)
}
