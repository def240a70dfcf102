// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact stores immutable binary outputs produced during an
// execution step: logs, diffs, screenshots, anything a step wants to
// hand back besides its structured output.
package artifact

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/store"
)

// Store wraps the artifact table with a narrower, domain-shaped API.
type Store struct {
	store *store.Store
}

// New returns a Store backed by st.
func New(st *store.Store) *Store {
	return &Store{store: st}
}

// Params is the input to Create.
type Params struct {
	ExecutionID  string
	StepName     string
	ArtifactType string
	Name         string
	Content      []byte
	ContentType  string
	Metadata     map[string]any
}

// Create inserts a new immutable Artifact row. content is stored as-is
// (BLOB); callers at a text-based transport boundary are responsible
// for base64-encoding/decoding bytes to and from JSON.
func (s *Store) Create(ctx context.Context, params Params) (*store.Artifact, error) {
	a := &store.Artifact{
		ArtifactID:   uuid.NewString(),
		ExecutionID:  params.ExecutionID,
		StepName:     params.StepName,
		ArtifactType: params.ArtifactType,
		Name:         params.Name,
		Content:      params.Content,
		ContentType:  params.ContentType,
		SizeBytes:    int64(len(params.Content)),
		Metadata:     params.Metadata,
	}

	err := s.store.Transaction(ctx, "record_artifact", func(ctx context.Context, tx *sql.Tx) error {
		return s.store.InsertArtifactTx(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns an artifact with its content.
func (s *Store) Get(ctx context.Context, artifactID string) (*store.Artifact, error) {
	return s.store.GetArtifact(ctx, artifactID)
}

// List returns artifact summaries (content omitted) for an execution,
// optionally narrowed to one step.
func (s *Store) List(ctx context.Context, executionID, stepName string) ([]*store.Artifact, error) {
	return s.store.ListArtifacts(ctx, executionID, stepName)
}
