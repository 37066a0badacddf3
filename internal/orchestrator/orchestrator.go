/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"time"

	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/types"
)

// EnqueueEvent proxies to the store, matching the stable Orchestrator API
// contract of spec.md §6.
func (o *Orchestrator) EnqueueEvent(agentID string, source types.EventSource, eventType, dedupeKey string, payload map[string]interface{}, now time.Time) (types.Event, error) {
	return o.Store.EnqueueEvent(store.EnqueueParams{
		AgentID:   agentID,
		Source:    source,
		Type:      eventType,
		DedupeKey: dedupeKey,
		Payload:   payload,
		Ts:        now,
	})
}

// LoadState proxies to the store with empty defaults, for callers that
// just want the current document without running a cycle.
func (o *Orchestrator) LoadState(agentID string, now time.Time) (*types.AgentState, error) {
	return o.Store.LoadState(agentID, store.Defaults{}, now)
}

// HasState reports whether agentID already has a persisted state document.
func (o *Orchestrator) HasState(agentID string) bool {
	return o.Store.HasState(agentID)
}

// ResetRuntime deletes the entire agent directory.
func (o *Orchestrator) ResetRuntime(agentID string) error {
	return o.Store.ResetRuntime(agentID)
}

// ReadLedgerEntries proxies to the store's disk-backed, paginated ledger
// read.
func (o *Orchestrator) ReadLedgerEntries(agentID string, limit, offset int) ([]types.LedgerEntry, error) {
	if o.Ledger != nil {
		return o.Ledger.Read(agentID, limit, offset)
	}
	return o.Store.ReadLedger(agentID, limit, offset)
}

// VerifyLedger recomputes agentID's full hash chain (oldest first) and
// reports how many entries were checked and the index of the first one
// that fails verification, or -1 if the chain is intact. A gateway-level
// integrity check for operators who want to detect tampering with the
// on-disk ledger file.
func (o *Orchestrator) VerifyLedger(agentID string) (brokenAt int, checked int, err error) {
	if o.Ledger == nil {
		return -1, 0, nil
	}
	entries, err := o.Ledger.Read(agentID, 0, 0)
	if err != nil {
		return -1, 0, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	brokenAt, err = o.Ledger.VerifyChain(agentID, entries)
	return brokenAt, len(entries), err
}

// Tune applies a partial config override to the persisted state without
// running a cycle — an operator control per spec.md §6.
func (o *Orchestrator) Tune(agentID string, cfg Config, now time.Time) (*types.AgentState, error) {
	state, err := o.Store.LoadState(agentID, store.Defaults{}, now)
	if err != nil {
		return nil, err
	}
	applyConfig(state, &cfg)
	if err := o.Store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Pause sets paused=true with a manual reason — an operator control.
func (o *Orchestrator) Pause(agentID string, now time.Time) (*types.AgentState, error) {
	state, err := o.Store.LoadState(agentID, store.Defaults{}, now)
	if err != nil {
		return nil, err
	}
	applyPause(state, types.PauseManual, now)
	if err := o.Store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Resume clears any pause — an operator control.
func (o *Orchestrator) Resume(agentID string, now time.Time) (*types.AgentState, error) {
	state, err := o.Store.LoadState(agentID, store.Defaults{}, now)
	if err != nil {
		return nil, err
	}
	clearPause(state)
	if err := o.Store.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}
