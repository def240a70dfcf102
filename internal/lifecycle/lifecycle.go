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

// Package lifecycle creates executions, sweeps for timed-out runs, and
// resumes executions parked in "timeout" or "escalated". The timeout
// sweep is the one piece of the core that runs on a ticker rather than
// in response to a caller request.
package lifecycle

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/orchestra-run/orchestra/internal/metrics"
	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/sequencer"
	"github.com/orchestra-run/orchestra/internal/statemachine"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/token"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Manager implements create_execution, check_timeouts, resume_execution
// and ready_steps against the store and state machine.
type Manager struct {
	store     *store.Store
	machine   *statemachine.Machine
	workflows registry.WorkflowLookup
	tokenCfg  token.Config
	logger    *slog.Logger
}

// New returns a Manager wired to its collaborators. logger defaults to
// slog.Default() when nil.
func New(st *store.Store, machine *statemachine.Machine, workflows registry.WorkflowLookup, tokenCfg token.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, machine: machine, workflows: workflows, tokenCfg: tokenCfg, logger: logger}
}

// CreateExecutionParams is the input to CreateExecutionTx.
type CreateExecutionParams struct {
	ExecutionID  string
	WorkflowName string
	ProjectID    string
	Metadata     map[string]any
	TimeoutMs    *int64
}

// CreateExecutionTx inserts a new idle Execution row. Exposed as its own
// primitive so the Step Sequencer's start path and any future entry
// point (e.g. a pre-provisioning API) share one code path.
func (m *Manager) CreateExecutionTx(ctx context.Context, tx *sql.Tx, params CreateExecutionParams) (*store.Execution, error) {
	var projectIDPtr *string
	if params.ProjectID != "" {
		projectIDPtr = &params.ProjectID
	}

	exec := &store.Execution{
		ExecutionID:  params.ExecutionID,
		WorkflowName: params.WorkflowName,
		State:        store.ExecutionIdle,
		ProjectID:    projectIDPtr,
		Metadata:     params.Metadata,
		TimeoutMs:    params.TimeoutMs,
	}
	if err := m.store.CreateExecutionTx(ctx, tx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// CheckTimeouts transitions every running Execution whose timeout_ms has
// elapsed since started_at into the timeout state, returning the set
// that was transitioned. A transition failure for one execution is
// logged and does not abort the sweep over the rest. Idempotent: a
// second call finds no newly-eligible rows and returns empty.
func (m *Manager) CheckTimeouts(ctx context.Context, now time.Time) ([]*store.Execution, error) {
	candidates, err := m.store.ListRunningExecutionsWithTimeout(ctx)
	if err != nil {
		return nil, err
	}

	var timedOut []*store.Execution
	for _, exec := range candidates {
		if exec.StartedAt == nil || exec.TimeoutMs == nil {
			continue
		}
		elapsed := now.Sub(*exec.StartedAt).Milliseconds()
		if elapsed <= *exec.TimeoutMs {
			continue
		}

		updated, err := m.machine.TransitionExecution(ctx, exec.ExecutionID, store.ExecutionTimeout)
		if err != nil {
			m.logger.Error("timeout sweep: failed to transition execution",
				"execution_id", exec.ExecutionID, "error", err)
			continue
		}
		timedOut = append(timedOut, updated)
	}

	metrics.RecordTimeoutSweep(len(timedOut))
	m.observeExecutionStateCounts(ctx)

	return timedOut, nil
}

// observeExecutionStateCounts samples the current number of executions
// in each state and reports it via metrics.SetExecutionState. Piggybacks
// on the timeout sweep's ticker rather than running its own, since the
// sweep is already the one periodic, whole-table pass over executions.
func (m *Manager) observeExecutionStateCounts(ctx context.Context) {
	all, err := m.store.ListExecutions(ctx, "")
	if err != nil {
		m.logger.Error("timeout sweep: failed to sample execution state counts", "error", err)
		return
	}

	counts := make(map[string]float64, len(executionStates))
	for _, state := range executionStates {
		counts[state] = 0
	}
	for _, exec := range all {
		counts[exec.State]++
	}
	for state, count := range counts {
		metrics.SetExecutionState(state, count)
	}
}

// executionStates lists every state store.Execution.State can hold, so
// observeExecutionStateCounts can zero out a state's gauge once its last
// execution leaves it rather than leaving a stale nonzero reading.
var executionStates = []string{
	store.ExecutionIdle,
	store.ExecutionRunning,
	store.ExecutionCompleted,
	store.ExecutionFailed,
	store.ExecutionPaused,
	store.ExecutionAbandoned,
	store.ExecutionDiverged,
	store.ExecutionTimeout,
	store.ExecutionEscalated,
}

// ResumeExecution moves an execution out of "timeout" or "escalated"
// back to "running" and mints a fresh continuation token for its
// current step, invalidating whatever token callers may still be
// holding for that step.
func (m *Manager) ResumeExecution(ctx context.Context, executionID string) (*store.Execution, error) {
	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.State != store.ExecutionTimeout && exec.State != store.ExecutionEscalated {
		return nil, &orchestraerrors.StateError{
			Kind:         "NotResumable",
			Entity:       "execution",
			CurrentState: exec.State,
			Message:      "execution can only be resumed from timeout or escalated",
		}
	}
	if exec.CurrentStepName == nil {
		return nil, &orchestraerrors.StateError{Kind: "NotResumable", Entity: "execution", CurrentState: exec.State, Message: "execution has no current step to resume"}
	}

	var result *store.Execution
	err = m.store.Transaction(ctx, "resume_execution", func(ctx context.Context, tx *sql.Tx) error {
		step, err := m.store.GetStepByNameTx(ctx, tx, executionID, *exec.CurrentStepName)
		if err != nil {
			return err
		}

		tok, err := token.Issue(executionID, *exec.CurrentStepName, m.tokenCfg)
		if err != nil {
			return err
		}
		step.Token = &tok
		if err := m.store.UpdateStepTx(ctx, tx, step); err != nil {
			return err
		}

		exec.State = store.ExecutionRunning
		if err := m.store.UpdateExecutionTx(ctx, tx, exec); err != nil {
			return err
		}
		result = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadySteps returns the phases of the execution's workflow that are
// not yet created as Step rows but whose dependencies are satisfied by
// completed steps. Unused by the sequential v1 advance path, which
// always has exactly one step running; exposed so a future parallel
// scheduler can fan out directly.
func (m *Manager) ReadySteps(ctx context.Context, executionID string) ([]registry.Phase, error) {
	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	wf, err := m.workflows.GetWorkflow(exec.WorkflowName)
	if err != nil {
		return nil, err
	}

	steps, err := m.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}

	completed := make(map[string]bool, len(steps))
	created := make(map[string]bool, len(steps))
	for _, st := range steps {
		created[st.StepName] = true
		if st.Status == store.StepCompleted {
			completed[st.StepName] = true
		}
	}

	return sequencer.ReadySteps(wf, completed, created), nil
}

// Sweeper runs CheckTimeouts on a fixed interval until Stop is called.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper returns a Sweeper that calls manager.CheckTimeouts every
// interval. interval defaults to 30s when zero or negative.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{manager: manager, interval: interval, logger: manager.logger}
}

// Start launches the sweep loop in a goroutine. Calling Start while
// already running is a no-op.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.mu.Lock()
	if sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.stopCh = make(chan struct{})
	sw.doneCh = make(chan struct{})
	sw.mu.Unlock()

	go sw.run(ctx)
}

// Stop halts the sweep loop and waits for the in-flight tick, if any,
// to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = false
	close(sw.stopCh)
	sw.mu.Unlock()

	<-sw.doneCh
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case now := <-ticker.C:
			if _, err := sw.manager.CheckTimeouts(ctx, now); err != nil {
				sw.logger.Error("timeout sweep tick failed", "error", err)
			}
		}
	}
}
