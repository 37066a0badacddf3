/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package signing provides the HMAC-SHA256 primitives the ledger uses to
// make its append-only JSONL file tamper-evident: each entry's digest
// chains from the previous one, so a truncated or edited file breaks the
// chain at the point of tampering. Adapted from the teacher's
// request-signing Signer (Sign/Verify over a canonicalized payload),
// repointed at ledger-entry chaining instead of command authentication.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Signer creates and verifies HMAC-SHA256 signatures over a canonicalized
// (id, payload) pair.
type Signer struct {
	key []byte
}

// NewSigner creates a signer with the given shared secret.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign computes HMAC-SHA256 over id|json(payload).
func (s *Signer) Sign(id string, payload any) (string, error) {
	canonical, err := canonicalize(id, payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature matches the payload.
func (s *Signer) Verify(id string, payload any, signature string) error {
	expected, err := s.Sign(id, payload)
	if err != nil {
		return fmt.Errorf("compute expected: %w", err)
	}
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return fmt.Errorf("decode expected: %w", err)
	}
	if !hmac.Equal(sigBytes, expectedBytes) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func canonicalize(id string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	canonical := make([]byte, 0, len(id)+1+len(data))
	canonical = append(canonical, []byte(id)...)
	canonical = append(canonical, '|')
	canonical = append(canonical, data...)
	return canonical, nil
}

// DeriveLedgerKey derives a per-agent chaining key from a master key, the
// same key-separation idiom the teacher uses to scope a master secret to
// one probe.
func DeriveLedgerKey(masterKey []byte, agentID string) []byte {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte("autonomy-ledger-chain|" + agentID))
	return mac.Sum(nil)
}
