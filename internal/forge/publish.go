/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package forge

import (
	"context"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"gopkg.in/yaml.v3"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/driftloop/autonomy/internal/types"
)

const (
	mediaTypeCandidateManifest = "application/vnd.driftloop.autonomy.candidate.manifest.v1+yaml"
	mediaTypeCandidateMarkdown = "application/vnd.driftloop.autonomy.candidate.markdown.v1"
	artifactTypeCandidate      = "application/vnd.driftloop.autonomy.skill-candidate.v1"
)

// Registry names where a promoted candidate should be published. An empty
// Host means publish is a no-op — SPEC_FULL.md §4.12 treats this as
// best-effort and optional, not a required extension point.
type Registry struct {
	Host     string
	Path     string
	Tag      string
	PlainHTTP bool
	Username string
	Password string
}

func (r Registry) repoRef() string { return fmt.Sprintf("%s/%s", r.Host, r.Path) }

// PushResult reports what landed in the registry.
type PushResult struct {
	Ref    string
	Digest string
}

// Push packages a verified candidate's manifest (YAML, mirroring the
// teacher's ActionSheet YAML shape) and generated markdown into a single
// OCI artifact and pushes it to reg. A zero-value Registry is a no-op.
func Push(ctx context.Context, reg Registry, candidate *types.SkillCandidate, markdownBody string) (*PushResult, error) {
	if reg.Host == "" {
		return nil, nil
	}

	manifestYAML, err := yaml.Marshal(candidateManifest{
		Name:     candidate.Name,
		Intent:   candidate.Intent,
		Priority: candidate.Priority,
		Safety:   candidate.Safety,
		Tests:    candidate.Tests,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal candidate manifest: %w", err)
	}

	store := memory.New()

	manifestDesc, err := oras.PushBytes(ctx, store, mediaTypeCandidateManifest, manifestYAML)
	if err != nil {
		return nil, fmt.Errorf("push candidate manifest blob: %w", err)
	}
	contentDesc, err := oras.PushBytes(ctx, store, mediaTypeCandidateMarkdown, []byte(markdownBody))
	if err != nil {
		return nil, fmt.Errorf("push candidate markdown blob: %w", err)
	}

	tag := reg.Tag
	if tag == "" {
		tag = "latest"
	}

	packOpts := oras.PackManifestOptions{
		Layers:           []ocispec.Descriptor{manifestDesc, contentDesc},
	}
	rootDesc, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, artifactTypeCandidate, packOpts)
	if err != nil {
		return nil, fmt.Errorf("pack candidate artifact: %w", err)
	}
	if err := store.Tag(ctx, rootDesc, tag); err != nil {
		return nil, fmt.Errorf("tag candidate artifact: %w", err)
	}

	repo, err := reg.repository()
	if err != nil {
		return nil, fmt.Errorf("connect registry: %w", err)
	}

	copyDesc, err := oras.Copy(ctx, store, tag, repo, tag, oras.DefaultCopyOptions)
	if err != nil {
		return nil, fmt.Errorf("push candidate artifact: %w", err)
	}

	return &PushResult{Ref: fmt.Sprintf("%s:%s", reg.repoRef(), tag), Digest: copyDesc.Digest.String()}, nil
}

func (r Registry) repository() (*remote.Repository, error) {
	repo, err := remote.NewRepository(r.repoRef())
	if err != nil {
		return nil, err
	}
	repo.PlainHTTP = r.PlainHTTP
	if r.Username != "" {
		repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Credential: auth.StaticCredential(r.Host, auth.Credential{
				Username: r.Username,
				Password: r.Password,
			}),
		}
	}
	return repo, nil
}

// candidateManifest is the YAML-serialized shape pushed as the artifact's
// first layer, mirroring the teacher's ActionSheet/Action YAML fields.
type candidateManifest struct {
	Name     string                 `yaml:"name"`
	Intent   string                 `yaml:"intent"`
	Priority int                    `yaml:"priority"`
	Safety   types.CandidateSafety  `yaml:"safety"`
	Tests    []string               `yaml:"tests"`
}
