/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package forge

import (
	"os"
	"strings"

	"github.com/driftloop/autonomy/internal/types"
)

// maxVerifiedPerCall bounds how many planned candidates are checked per
// call (spec.md §4.6).
const maxVerifiedPerCall = 5

// FailureCode is a machine-readable verification failure reason.
type FailureCode string

const (
	FailureMissingFile        FailureCode = "missing_file"
	FailureMissingSection     FailureCode = "missing_section"
	FailureMissingConstraint  FailureCode = "missing_constraint"
	FailureMissingTest        FailureCode = "missing_test"
)

// Report is one candidate's verification outcome.
type Report struct {
	CandidateID string
	Passed      bool
	Failures    []FailureCode
}

// Verify reads the generated file for each planned candidate (up to
// maxVerifiedPerCall) and requires the three section headers plus every
// declared constraint and test to literally appear. Passing candidates
// become verified; failing candidates become rejected.
func Verify(candidates []*types.SkillCandidate, workspaceDir string) ([]*types.SkillCandidate, []Report) {
	var reports []Report
	processed := 0

	for _, c := range candidates {
		if c.Status != types.CandidatePlanned {
			continue
		}
		if processed >= maxVerifiedPerCall {
			break
		}
		processed++

		report := verifyOne(c, workspaceDir)
		reports = append(reports, report)

		if report.Passed {
			c.Status = types.CandidateVerified
		} else {
			c.Status = types.CandidateRejected
		}
	}

	return candidates, reports
}

func verifyOne(c *types.SkillCandidate, workspaceDir string) Report {
	path := GeneratedPath(workspaceDir, c.Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{CandidateID: c.ID, Passed: false, Failures: []FailureCode{FailureMissingFile}}
	}
	content := string(data)

	var failures []FailureCode
	for _, section := range []string{SectionPurpose, SectionSafety, SectionVerification} {
		if !strings.Contains(content, section) {
			failures = append(failures, FailureMissingSection)
			break
		}
	}
	for _, constraint := range c.Safety.Constraints {
		if !strings.Contains(content, constraint) {
			failures = append(failures, FailureMissingConstraint)
			break
		}
	}
	for _, test := range c.Tests {
		if !strings.Contains(content, test) {
			failures = append(failures, FailureMissingTest)
			break
		}
	}

	return Report{CandidateID: c.ID, Passed: len(failures) == 0, Failures: failures}
}
