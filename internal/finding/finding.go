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

// Package finding stores structured observations produced during a run
// (vulnerabilities, review comments, risks) with full-text search and
// project-or-global scoping.
package finding

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/store"
)

// Store wraps the finding table with a narrower, domain-shaped API.
type Store struct {
	store *store.Store
}

// New returns a Store backed by st.
func New(st *store.Store) *Store {
	return &Store{store: st}
}

// Params is the input to Create.
type Params struct {
	ExecutionID string
	StepID      *string
	Severity    string
	Category    string
	Title       string
	Description string
	Tags        []string
	IsGlobal    bool
	ProjectID   string
	Location    string
	Metadata    map[string]any
}

// Create inserts a Finding row; the full-text index is maintained
// transactionally by the store's triggers.
func (s *Store) Create(ctx context.Context, params Params) (*store.Finding, error) {
	var projectIDPtr *string
	if params.ProjectID != "" {
		projectIDPtr = &params.ProjectID
	}

	f := &store.Finding{
		FindingID:   uuid.NewString(),
		ExecutionID: params.ExecutionID,
		StepID:      params.StepID,
		Severity:    params.Severity,
		Category:    params.Category,
		Title:       params.Title,
		Description: params.Description,
		Tags:        params.Tags,
		IsGlobal:    params.IsGlobal,
		ProjectID:   projectIDPtr,
		Location:    params.Location,
		Metadata:    params.Metadata,
	}

	err := s.store.Transaction(ctx, "record_finding", func(ctx context.Context, tx *sql.Tx) error {
		return s.store.InsertFindingTx(ctx, tx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Query returns findings matching filter, including its full-text
// search phrase if set.
func (s *Store) Query(ctx context.Context, filter store.FindingFilter) ([]*store.Finding, error) {
	return s.store.QueryFindings(ctx, filter)
}

// ForProject returns findings scoped to project_id together with every
// globally-scoped finding, applying any additional filters given.
// This is the project-scoping rule: project_id = ? OR is_global = true.
func (s *Store) ForProject(ctx context.Context, projectID string, filter store.FindingFilter) ([]*store.Finding, error) {
	filter.ProjectID = projectID
	return s.store.QueryFindings(ctx, filter)
}

// CountsBySeverity aggregates finding counts by severity for an
// execution.
func (s *Store) CountsBySeverity(ctx context.Context, executionID string) (map[string]int, error) {
	return s.store.CountFindingsBySeverity(ctx, executionID)
}
