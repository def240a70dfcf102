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

package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestra-run/orchestra/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestStore_Resolve_CreatesAndDetectsGitRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repoDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(repoDir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create fake .git dir: %v", err)
	}

	assoc, err := s.Resolve(ctx, repoDir, "")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if !assoc.IsGitRepo {
		t.Error("expected is_git_repo to be true")
	}
	if assoc.Name != filepath.Base(repoDir) {
		t.Errorf("expected name to default to base dir, got %s", assoc.Name)
	}
}

func TestStore_Resolve_IsIdempotentByPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	first, err := s.Resolve(ctx, dir, "myproject")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}

	second, err := s.Resolve(ctx, dir, "myproject")
	if err != nil {
		t.Fatalf("unexpected second resolve error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected re-resolving the same path to return the same association, got %s and %s", first.ID, second.ID)
	}
}

func TestValidatePath_RejectsTraversal(t *testing.T) {
	if _, err := ValidatePath("../etc/passwd"); err == nil {
		t.Fatal("expected directory traversal path to be rejected")
	}
}

func TestValidatePath_RejectsEmpty(t *testing.T) {
	if _, err := ValidatePath(""); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}
