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

package artifact

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/orchestra-run/orchestra/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.Transaction(context.Background(), "test", func(ctx context.Context, tx *sql.Tx) error {
		return st.CreateExecutionTx(ctx, tx, &store.Execution{ExecutionID: "e1", WorkflowName: "w1", State: store.ExecutionRunning})
	})
	if err != nil {
		t.Fatalf("failed to seed execution: %v", err)
	}

	return New(st), st
}

func TestStore_CreateAndGetArtifact_RoundTripsContent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	content := []byte("binary payload bytes")
	created, err := s.Create(ctx, Params{
		ExecutionID:  "e1",
		StepName:     "design",
		ArtifactType: "diff",
		Name:         "patch.diff",
		Content:      content,
		ContentType:  "text/plain",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.SizeBytes != int64(len(content)) {
		t.Errorf("expected size_bytes %d, got %d", len(content), created.SizeBytes)
	}

	fetched, err := s.Get(ctx, created.ArtifactID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !bytes.Equal(fetched.Content, content) {
		t.Errorf("expected round-tripped content %q, got %q", content, fetched.Content)
	}
}

func TestStore_List_OmitsContentAndFiltersByStep(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, Params{ExecutionID: "e1", StepName: "design", ArtifactType: "note", Name: "a", Content: []byte("x")}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := s.Create(ctx, Params{ExecutionID: "e1", StepName: "implement", ArtifactType: "note", Name: "b", Content: []byte("y")}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	list, err := s.List(ctx, "e1", "design")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a" {
		t.Fatalf("expected exactly the design-step artifact, got %d", len(list))
	}
}
