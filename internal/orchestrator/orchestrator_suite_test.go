/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/driftloop/autonomy/internal/ledger"
	"github.com/driftloop/autonomy/internal/orchestrator"
	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/types"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator cycle suite")
}

func newOrchestrator(root string) (*orchestrator.Orchestrator, string) {
	st := store.New(root, logr.Discard())
	l := ledger.New(st, nil)
	return orchestrator.New(st, l, logr.Discard()), root + "-workspace"
}

var _ = Describe("Prepare", func() {
	var (
		orch         *orchestrator.Orchestrator
		workspaceDir string
		agentID      string
		base         time.Time
	)

	BeforeEach(func() {
		orch, workspaceDir = newOrchestrator(GinkgoT().TempDir())
		agentID = "watchman-light"
		base = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	})

	Describe("paused skip", func() {
		It("returns skipped without touching the queue", func() {
			state, err := orch.LoadState(agentID, base)
			Expect(err).NotTo(HaveOccurred())
			state.Paused = true
			state.PauseReason = types.PauseManual
			Expect(orch.Store.SaveState(state)).To(Succeed())

			result, err := orch.Prepare(orchestrator.PrepareParams{
				AgentID: agentID, WorkspaceDir: workspaceDir, Now: base,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(BeTrue())
			Expect(result.Reason).To(ContainSubstring("paused"))
		})
	})

	Describe("budget auto-resume", func() {
		It("clears the pause and resets cycle usage on day rollover", func() {
			state, err := orch.LoadState(agentID, base)
			Expect(err).NotTo(HaveOccurred())
			pausedAt := base.Add(-time.Hour)
			state.Paused = true
			state.PauseReason = types.PauseBudget
			state.PausedAt = &pausedAt
			state.Budget.DayKey = "2000-01-01"
			state.Budget.CyclesUsed = 99
			state.Safety.AutoResumeOnNewDayBudgetPause = true
			Expect(orch.Store.SaveState(state)).To(Succeed())

			result, err := orch.Prepare(orchestrator.PrepareParams{
				AgentID: agentID, WorkspaceDir: workspaceDir, Now: base,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(BeFalse())
			Expect(result.State.Paused).To(BeFalse())
			Expect(result.State.Budget.CyclesUsed).To(Equal(0))

			found := false
			for _, ev := range result.Events {
				if ev.Type == "autonomy.resume" {
					found = true
					Expect(ev.Payload["reason"]).To(Equal("budget-window-rollover"))
				}
			}
			Expect(found).To(BeTrue())

			Expect(orch.Store.ReleaseLock(agentID, result.LockToken)).To(Succeed())
		})
	})

	Describe("error auto-pause", func() {
		It("pauses after maxConsecutiveErrors consecutive error finalizes", func() {
			state, err := orch.LoadState(agentID, base)
			Expect(err).NotTo(HaveOccurred())
			state.Safety.MaxConsecutiveErrors = 2
			Expect(orch.Store.SaveState(state)).To(Succeed())

			for i := 0; i < 2; i++ {
				prep, err := orch.Prepare(orchestrator.PrepareParams{
					AgentID: agentID, WorkspaceDir: workspaceDir, Now: base.Add(time.Duration(i) * time.Minute),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(prep.Skipped).To(BeFalse())

				err = orch.Finalize(orchestrator.FinalizeParams{
					State:          prep.State,
					Status:         "error",
					Err:            "boom",
					Events:         prep.Events,
					Drops:          prep.Drops,
					Remaining:      prep.RemainingEvents,
					LockToken:      prep.LockToken,
					WorkspaceDir:   workspaceDir,
					CycleStartedAt: prep.CycleStartedAt,
					Now:            base.Add(time.Duration(i)*time.Minute + time.Second),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			final, err := orch.LoadState(agentID, base.Add(2*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Paused).To(BeTrue())
			Expect(final.PauseReason).To(Equal(types.PauseErrors))
			Expect(final.Metrics.ConsecutiveErrors).To(BeNumerically(">=", 2))
		})
	})

	Describe("stale task dedupe", func() {
		It("injects the stale signal once per day", func() {
			state, err := orch.LoadState(agentID, base)
			Expect(err).NotTo(HaveOccurred())
			state.Safety.StaleTaskHours = 24
			state.Tasks = []types.Task{{ID: "t-1", Title: "fix thing", Status: "blocked", UpdatedAt: base.Add(-48 * time.Hour)}}
			Expect(orch.Store.SaveState(state)).To(Succeed())

			first, err := orch.Prepare(orchestrator.PrepareParams{AgentID: agentID, WorkspaceDir: workspaceDir, Now: base})
			Expect(err).NotTo(HaveOccurred())
			Expect(hasEventType(first.Events, "autonomy.task.stale.blocked")).To(BeTrue())
			Expect(orch.Store.ReleaseLock(agentID, first.LockToken)).To(Succeed())

			second, err := orch.Prepare(orchestrator.PrepareParams{AgentID: agentID, WorkspaceDir: workspaceDir, Now: base.Add(time.Hour)})
			Expect(err).NotTo(HaveOccurred())
			Expect(hasEventType(second.Events, "autonomy.task.stale.blocked")).To(BeFalse())
			Expect(orch.Store.ReleaseLock(agentID, second.LockToken)).To(Succeed())
		})
	})

	Describe("promote gate denial", func() {
		It("keeps the stage at promote when no candidates are verified", func() {
			state, err := orch.LoadState(agentID, base)
			Expect(err).NotTo(HaveOccurred())
			state.Augmentation.Stage = types.StagePromote
			state.Augmentation.StageEnteredAt = base
			state.RecentCycles = []types.CycleRecord{
				{StartedAt: base, DurationMs: 10, Status: "ok"},
				{StartedAt: base, DurationMs: 10, Status: "ok"},
				{StartedAt: base, DurationMs: 10, Status: "ok"},
			}
			Expect(orch.Store.SaveState(state)).To(Succeed())

			result, err := orch.Prepare(orchestrator.PrepareParams{AgentID: agentID, WorkspaceDir: workspaceDir, Now: base})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State.Augmentation.Stage).To(Equal(types.StagePromote))

			entries, err := orch.ReadLedgerEntries(agentID, 10, 0)
			Expect(err).NotTo(HaveOccurred())
			foundDenial := false
			for _, e := range entries {
				if e.EventType == types.LedgerPolicyDenied {
					foundDenial = true
					Expect(e.Summary).To(ContainSubstring("no verified candidates"))
				}
			}
			Expect(foundDenial).To(BeTrue())

			foundDeniedEvent := false
			for _, ev := range result.Events {
				if ev.Type == "autonomy.augmentation.policy.denied" {
					foundDeniedEvent = true
					Expect(ev.Payload["reason"]).To(ContainSubstring("no verified candidates"))
				}
			}
			Expect(foundDeniedEvent).To(BeTrue())

			Expect(orch.Store.ReleaseLock(agentID, result.LockToken)).To(Succeed())
		})
	})
})

func hasEventType(events []types.Event, t string) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}
