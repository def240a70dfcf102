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

// Package project resolves and tracks the Project Association entity
// used to scope findings to a filesystem path.
package project

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/store"
)

// Store wraps the project_associations table.
type Store struct {
	store *store.Store
}

// New returns a Store backed by st.
func New(st *store.Store) *Store {
	return &Store{store: st}
}

// Resolve finds or creates the ProjectAssociation for path, refreshing
// last_used_at and is_git_repo on every call. name defaults to the
// path's base directory name when empty.
func (s *Store) Resolve(ctx context.Context, path, name string) (*store.ProjectAssociation, error) {
	cleanPath, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = filepath.Base(cleanPath)
	}

	now := time.Now().UTC()
	p := &store.ProjectAssociation{
		ID:           uuid.NewString(),
		Name:         name,
		Path:         cleanPath,
		IsGitRepo:    isGitRepo(cleanPath),
		DiscoveredAt: now,
		LastUsedAt:   &now,
	}

	err = s.store.Transaction(ctx, "link_project", func(ctx context.Context, tx *sql.Tx) error {
		return s.store.UpsertProjectAssociationTx(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}

	return s.store.GetProjectAssociationByPath(ctx, cleanPath)
}

// GetByPath returns the ProjectAssociation for path without touching
// last_used_at.
func (s *Store) GetByPath(ctx context.Context, path string) (*store.ProjectAssociation, error) {
	cleanPath, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	return s.store.GetProjectAssociationByPath(ctx, cleanPath)
}

func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// ValidatePath cleans and resolves path to an absolute form, rejecting
// directory-traversal sequences. It does not require the path to
// exist, since a project may be registered ahead of checkout.
func ValidatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("project path is empty")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("project path contains a directory traversal sequence (..)")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolving project path: %w", err)
	}
	return abs, nil
}
