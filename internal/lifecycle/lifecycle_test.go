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

package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/sequencer"
	"github.com/orchestra-run/orchestra/internal/statemachine"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/token"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

type fakeRegistry struct {
	workflows map[string]*registry.Workflow
	agents    map[string]*registry.Agent
}

func (f *fakeRegistry) GetWorkflow(name string) (*registry.Workflow, error) {
	w, ok := f.workflows[name]
	if !ok {
		return nil, &orchestraerrors.NotFoundError{Resource: "workflow", ID: name}
	}
	return w, nil
}

func (f *fakeRegistry) ListWorkflows() []*registry.Workflow { return nil }

func (f *fakeRegistry) GetAgent(name string) (*registry.Agent, error) {
	a, ok := f.agents[name]
	if !ok {
		return nil, &orchestraerrors.NotFoundError{Resource: "agent", ID: name}
	}
	return a, nil
}

func twoPhaseWorkflow() *fakeRegistry {
	return &fakeRegistry{
		workflows: map[string]*registry.Workflow{
			"w1": {
				Name: "w1",
				Phases: []registry.Phase{
					{PhaseName: "design", AgentName: "architect"},
					{PhaseName: "implement", AgentName: "implementer", DependsOn: []string{"design"}},
				},
			},
		},
		agents: map[string]*registry.Agent{
			"architect":   {Name: "architect", Content: "design persona"},
			"implementer": {Name: "implementer", Content: "implement persona"},
		},
	}
}

func testTokenConfig() token.Config {
	return token.Config{Secret: []byte("test-secret-key-32-bytes-long!!")}
}

func newTestManager(t *testing.T, reg *fakeRegistry) (*Manager, *sequencer.Sequencer, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	machine := statemachine.New(st)
	seq := sequencer.New(st, machine, reg, reg, testTokenConfig())
	mgr := New(st, machine, reg, testTokenConfig(), nil)
	return mgr, seq, st
}

func TestManager_CheckTimeouts_TransitionsExpiredRunningExecutions(t *testing.T) {
	mgr, seq, st := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	timeoutMs := int64(1000)
	if _, err := seq.Start(ctx, "e1", "w1", "", nil, &timeoutMs); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	future := time.Now().Add(2 * time.Hour)
	timedOut, err := mgr.CheckTimeouts(ctx, future)
	if err != nil {
		t.Fatalf("unexpected check timeouts error: %v", err)
	}
	if len(timedOut) != 1 {
		t.Fatalf("expected 1 timed-out execution, got %d", len(timedOut))
	}
	if timedOut[0].ExecutionID != "e1" {
		t.Errorf("expected e1 to time out, got %s", timedOut[0].ExecutionID)
	}

	exec, err := st.GetExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if exec.State != store.ExecutionTimeout {
		t.Errorf("expected state timeout, got %s", exec.State)
	}
}

func TestManager_CheckTimeouts_IsIdempotent(t *testing.T) {
	mgr, seq, _ := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	timeoutMs := int64(1000)
	if _, err := seq.Start(ctx, "e2", "w1", "", nil, &timeoutMs); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	future := time.Now().Add(2 * time.Hour)
	if _, err := mgr.CheckTimeouts(ctx, future); err != nil {
		t.Fatalf("unexpected first sweep error: %v", err)
	}

	timedOut, err := mgr.CheckTimeouts(ctx, future)
	if err != nil {
		t.Fatalf("unexpected second sweep error: %v", err)
	}
	if len(timedOut) != 0 {
		t.Errorf("expected second sweep to find nothing newly eligible, got %d", len(timedOut))
	}
}

func TestManager_CheckTimeouts_IgnoresExecutionsStillWithinBudget(t *testing.T) {
	mgr, seq, _ := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	timeoutMs := int64(60 * 60 * 1000)
	if _, err := seq.Start(ctx, "e3", "w1", "", nil, &timeoutMs); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	timedOut, err := mgr.CheckTimeouts(ctx, time.Now())
	if err != nil {
		t.Fatalf("unexpected check timeouts error: %v", err)
	}
	if len(timedOut) != 0 {
		t.Errorf("expected execution within its timeout budget to be left alone, got %d", len(timedOut))
	}
}

func TestManager_ResumeExecution_FromTimeoutMintsFreshToken(t *testing.T) {
	mgr, seq, st := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	timeoutMs := int64(1000)
	start, err := seq.Start(ctx, "e4", "w1", "", nil, &timeoutMs)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if _, err := mgr.CheckTimeouts(ctx, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("unexpected check timeouts error: %v", err)
	}

	exec, err := mgr.ResumeExecution(ctx, "e4")
	if err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if exec.State != store.ExecutionRunning {
		t.Errorf("expected execution to resume to running, got %s", exec.State)
	}

	step, err := st.GetStepByName(ctx, "e4", "design")
	if err != nil {
		t.Fatalf("failed to get step: %v", err)
	}
	if step.Token == nil || *step.Token == start.Token {
		t.Error("expected resume to mint a fresh token distinct from the original")
	}
}

func TestManager_ResumeExecution_RejectsNonResumableState(t *testing.T) {
	mgr, seq, _ := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	if _, err := seq.Start(ctx, "e5", "w1", "", nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	_, err := mgr.ResumeExecution(ctx, "e5")
	if err == nil {
		t.Fatal("expected resume of a running execution to fail")
	}
	var stateErr *orchestraerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %T", err)
	}
	if stateErr.Kind != "NotResumable" {
		t.Errorf("expected Kind NotResumable, got %s", stateErr.Kind)
	}
}

func TestManager_ReadySteps_DelegatesToSequencer(t *testing.T) {
	mgr, seq, _ := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	if _, err := seq.Start(ctx, "e6", "w1", "", nil, nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	ready, err := mgr.ReadySteps(ctx, "e6")
	if err != nil {
		t.Fatalf("unexpected ready steps error: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready phases while design is still running, got %d", len(ready))
	}
}

func TestManager_CreateExecutionTx_InsertsIdleExecution(t *testing.T) {
	mgr, _, st := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	var created *store.Execution
	executionID := uuid.NewString()
	err := st.Transaction(ctx, "test", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		created, err = mgr.CreateExecutionTx(ctx, tx, CreateExecutionParams{
			ExecutionID:  executionID,
			WorkflowName: "w1",
		})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected create execution error: %v", err)
	}
	if created.State != store.ExecutionIdle {
		t.Errorf("expected idle state, got %s", created.State)
	}

	fetched, err := st.GetExecution(ctx, executionID)
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if fetched.WorkflowName != "w1" {
		t.Errorf("expected workflow_name w1, got %s", fetched.WorkflowName)
	}
}

func TestSweeper_StartStop_RunsWithoutDeadlock(t *testing.T) {
	mgr, seq, _ := newTestManager(t, twoPhaseWorkflow())
	ctx := context.Background()

	timeoutMs := int64(1)
	if _, err := seq.Start(ctx, "e7", "w1", "", nil, &timeoutMs); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	sw := NewSweeper(mgr, 10*time.Millisecond)
	sw.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	sw.Stop()
}
