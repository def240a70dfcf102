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

package sequencer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchestra-run/orchestra/internal/registry"
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

func (f *fakeRegistry) ListWorkflows() []*registry.Workflow {
	out := make([]*registry.Workflow, 0, len(f.workflows))
	for _, w := range f.workflows {
		out = append(out, w)
	}
	return out
}

func (f *fakeRegistry) GetAgent(name string) (*registry.Agent, error) {
	a, ok := f.agents[name]
	if !ok {
		return nil, &orchestraerrors.NotFoundError{Resource: "agent", ID: name}
	}
	return a, nil
}

func threePhaseWorkflow() *fakeRegistry {
	return &fakeRegistry{
		workflows: map[string]*registry.Workflow{
			"w1": {
				Name: "w1",
				Phases: []registry.Phase{
					{PhaseName: "design", AgentName: "architect"},
					{PhaseName: "implement", AgentName: "implementer", DependsOn: []string{"design"}},
					{PhaseName: "review", AgentName: "reviewer", DependsOn: []string{"implement"}},
				},
			},
		},
		agents: map[string]*registry.Agent{
			"architect":   {Name: "architect", Content: "design persona"},
			"implementer": {Name: "implementer", Content: "implement persona"},
			"reviewer":    {Name: "reviewer", Content: "review persona"},
		},
	}
}

func testTokenConfig() token.Config {
	return token.Config{Secret: []byte("test-secret-key-32-bytes-long!!")}
}

func newTestSequencer(t *testing.T, reg *fakeRegistry) *Sequencer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	machine := statemachine.New(st)
	return New(st, machine, reg, reg, testTokenConfig())
}

func TestSequencer_ThreePhaseHappyPath(t *testing.T) {
	seq := newTestSequencer(t, threePhaseWorkflow())
	ctx := context.Background()

	start, err := seq.Start(ctx, "e1", "w1", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if start.StepName != "design" {
		t.Fatalf("expected first step design, got %s", start.StepName)
	}

	adv1, err := seq.Advance(ctx, start.Token, store.StepOutput{Summary: "d"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}
	if adv1.StepName != "implement" {
		t.Fatalf("expected step implement, got %s", adv1.StepName)
	}

	adv2, err := seq.Advance(ctx, adv1.Token, store.StepOutput{Summary: "i"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}
	if adv2.StepName != "review" {
		t.Fatalf("expected step review, got %s", adv2.StepName)
	}

	adv3, err := seq.Advance(ctx, adv2.Token, store.StepOutput{Summary: "r"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}
	if adv3.WorkflowState != store.ExecutionCompleted {
		t.Fatalf("expected workflow_state completed, got %q", adv3.WorkflowState)
	}

	exec, err := seq.store.GetExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if exec.State != store.ExecutionCompleted {
		t.Errorf("expected execution state completed, got %s", exec.State)
	}

	steps, err := seq.store.ListSteps(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for _, st := range steps {
		if st.Status != store.StepCompleted {
			t.Errorf("expected step %s to be completed, got %s", st.StepName, st.Status)
		}
	}
}

func TestSequencer_MissingAgentAtStart(t *testing.T) {
	reg := &fakeRegistry{
		workflows: map[string]*registry.Workflow{
			"w2": {
				Name: "w2",
				Phases: []registry.Phase{
					{PhaseName: "design", AgentName: "ghost"},
				},
			},
		},
		agents: map[string]*registry.Agent{},
	}
	seq := newTestSequencer(t, reg)

	_, err := seq.Start(context.Background(), "e2", "w2", "", nil, nil)
	if err == nil {
		t.Fatal("expected error for missing agent")
	}
	var notFound *orchestraerrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T", err)
	}

	if _, getErr := seq.store.GetExecution(context.Background(), "e2"); getErr == nil {
		t.Fatal("expected no execution row to exist after a failed start")
	}
}

func TestSequencer_DoubleAdvanceFailsWithTokenStepMismatch(t *testing.T) {
	seq := newTestSequencer(t, threePhaseWorkflow())
	ctx := context.Background()

	start, err := seq.Start(ctx, "e3", "w1", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if _, err := seq.Advance(ctx, start.Token, store.StepOutput{Summary: "d"}, time.Now()); err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}

	_, err = seq.Advance(ctx, start.Token, store.StepOutput{Summary: "replay"}, time.Now())
	if err == nil {
		t.Fatal("expected replayed token to fail")
	}
	var stateErr *orchestraerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %T", err)
	}
	if stateErr.Kind != "TokenStepMismatch" {
		t.Errorf("expected Kind TokenStepMismatch, got %s", stateErr.Kind)
	}
}

func TestSequencer_EmptyPhasesRejected(t *testing.T) {
	reg := &fakeRegistry{
		workflows: map[string]*registry.Workflow{"empty": {Name: "empty"}},
		agents:    map[string]*registry.Agent{},
	}
	seq := newTestSequencer(t, reg)

	_, err := seq.Start(context.Background(), "e4", "empty", "", nil, nil)
	if err == nil {
		t.Fatal("expected error for workflow with no phases")
	}

	if _, getErr := seq.store.GetExecution(context.Background(), "e4"); getErr == nil {
		t.Fatal("expected no execution row to exist for an empty-phase workflow")
	}
}

func TestSequencer_PausedExecutionRejectsAdvance(t *testing.T) {
	seq := newTestSequencer(t, threePhaseWorkflow())
	ctx := context.Background()

	start, err := seq.Start(ctx, "e5", "w1", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if _, err := seq.machine.TransitionExecution(ctx, "e5", store.ExecutionPaused); err != nil {
		t.Fatalf("failed to pause execution: %v", err)
	}

	_, err = seq.Advance(ctx, start.Token, store.StepOutput{Summary: "d"}, time.Now())
	if err == nil {
		t.Fatal("expected advance on a paused execution to fail")
	}
	var stateErr *orchestraerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %T", err)
	}
	if stateErr.Kind != "NotRunnable" {
		t.Errorf("expected Kind NotRunnable, got %s", stateErr.Kind)
	}
}

func TestSequencer_TimedOutExecutionRejectsStaleToken(t *testing.T) {
	seq := newTestSequencer(t, threePhaseWorkflow())
	ctx := context.Background()

	start, err := seq.Start(ctx, "e6", "w1", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Simulate the lifecycle sweep moving the execution to timeout
	// without invalidating the token already issued for its current
	// step, then replay that stale token against Advance.
	if _, err := seq.machine.TransitionExecution(ctx, "e6", store.ExecutionTimeout); err != nil {
		t.Fatalf("failed to time out execution: %v", err)
	}

	_, err = seq.Advance(ctx, start.Token, store.StepOutput{Summary: "d"}, time.Now())
	if err == nil {
		t.Fatal("expected advance with a stale pre-timeout token to fail")
	}
	var stateErr *orchestraerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %T", err)
	}
	if stateErr.Kind != "NotRunnable" {
		t.Errorf("expected Kind NotRunnable, got %s", stateErr.Kind)
	}

	exec, err := seq.store.GetExecution(ctx, "e6")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if exec.State != store.ExecutionTimeout {
		t.Errorf("expected execution to remain in timeout, got %s", exec.State)
	}
}
