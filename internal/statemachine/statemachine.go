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

// Package statemachine owns the permitted-transition tables for
// Executions and Steps and the Machine that applies transitions checked
// against them. Every Machine transition is applied inside a single
// store transaction so the persisted state is never observed
// half-updated. The Sequencer and the Lifecycle Manager also write
// execution state inside their own store transactions: the Sequencer
// checks its completion and failure writes with
// ValidateExecutionTransition, and ResumeExecution sets running
// directly after its own timeout/escalated check.
package statemachine

import (
	"context"
	"database/sql"
	"time"

	"github.com/orchestra-run/orchestra/internal/store"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// executionTransitions maps an Execution's current state to the set of
// states it may move to next. Terminal states have no entry.
var executionTransitions = map[string][]string{
	store.ExecutionIdle:      {store.ExecutionRunning},
	store.ExecutionRunning:   {store.ExecutionCompleted, store.ExecutionFailed, store.ExecutionPaused, store.ExecutionAbandoned, store.ExecutionDiverged, store.ExecutionTimeout, store.ExecutionEscalated},
	store.ExecutionPaused:    {store.ExecutionRunning, store.ExecutionAbandoned},
	store.ExecutionTimeout:   {store.ExecutionRunning, store.ExecutionFailed},
	store.ExecutionEscalated: {store.ExecutionRunning, store.ExecutionCompleted, store.ExecutionFailed},
}

// stepTransitions maps a Step's current status to its permitted next
// statuses.
var stepTransitions = map[string][]string{
	store.StepPending: {store.StepRunning, store.StepSkipped},
	store.StepRunning: {store.StepCompleted, store.StepFailed},
}

// CanTransitionExecution reports whether moving an Execution from from
// to to is permitted.
func CanTransitionExecution(from, to string) bool {
	for _, allowed := range executionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether moving a Step from from to to is
// permitted.
func CanTransitionStep(from, to string) bool {
	for _, allowed := range stepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalExecutionState reports whether state has no outgoing
// transitions.
func IsTerminalExecutionState(state string) bool {
	_, ok := executionTransitions[state]
	return !ok
}

// IsTerminalStepState reports whether status has no outgoing
// transitions.
func IsTerminalStepState(status string) bool {
	_, ok := stepTransitions[status]
	return !ok
}

// Machine applies Execution and Step transitions against the store,
// enforcing the permitted-transition tables above.
type Machine struct {
	store *store.Store
}

// New returns a Machine backed by st.
func New(st *store.Store) *Machine {
	return &Machine{store: st}
}

// ValidateExecutionTransition reports whether moving an execution from
// from to target is permitted, returning a StateError (Kind
// "InvalidTransition") if not. Unlike TransitionExecution it performs
// no store access, so callers already holding a store transaction (who
// cannot call TransitionExecution without tripping the store's
// nested-transaction guard) can still have the Machine gate their
// writes against the permitted-transition table.
func (m *Machine) ValidateExecutionTransition(from, target string) error {
	if !CanTransitionExecution(from, target) {
		return &orchestraerrors.StateError{
			Kind:         "InvalidTransition",
			Entity:       "execution",
			CurrentState: from,
			Message:      "cannot transition execution from " + from + " to " + target,
		}
	}
	return nil
}

// TransitionExecution moves execution executionID to target, rejecting
// the move with a StateError (Kind "InvalidTransition") if it is not in
// the permitted table for the execution's current state. Lifecycle
// timestamps (started_at, completed_at, duration_ms) are maintained as
// a side effect of entering the running state or a terminal state.
func (m *Machine) TransitionExecution(ctx context.Context, executionID, target string) (*store.Execution, error) {
	var result *store.Execution

	err := m.store.Transaction(ctx, "transition_execution", func(ctx context.Context, tx *sql.Tx) error {
		exec, err := m.store.GetExecutionTx(ctx, tx, executionID)
		if err != nil {
			return err
		}

		if exec.State == target {
			result = exec
			return nil
		}

		if !CanTransitionExecution(exec.State, target) {
			return &orchestraerrors.StateError{
				Kind:         "InvalidTransition",
				Entity:       "execution",
				CurrentState: exec.State,
				Message:      "cannot transition execution from " + exec.State + " to " + target,
			}
		}

		now := time.Now().UTC()
		if target == store.ExecutionRunning && exec.StartedAt == nil {
			exec.StartedAt = &now
		}
		if IsTerminalExecutionState(target) {
			exec.CompletedAt = &now
			if exec.StartedAt != nil {
				duration := now.Sub(*exec.StartedAt).Milliseconds()
				exec.DurationMs = &duration
			}
		}

		exec.State = target
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

// TransitionStep moves step stepName of executionID to target, applying
// output (when provided) and maintaining started_at/completed_at/
// duration_ms. Rejected with a StateError (Kind "InvalidTransition") if
// not permitted from the step's current status.
func (m *Machine) TransitionStep(ctx context.Context, executionID, stepName, target string, output *store.StepOutput) (*store.Step, error) {
	var result *store.Step

	err := m.store.Transaction(ctx, "transition_step", func(ctx context.Context, tx *sql.Tx) error {
		st, err := m.store.GetStepByNameTx(ctx, tx, executionID, stepName)
		if err != nil {
			return err
		}

		if !CanTransitionStep(st.Status, target) {
			return &orchestraerrors.StateError{
				Kind:         "InvalidTransition",
				Entity:       "step",
				CurrentState: st.Status,
				Message:      "cannot transition step " + stepName + " from " + st.Status + " to " + target,
			}
		}

		now := time.Now().UTC()
		if target == store.StepRunning {
			st.StartedAt = &now
		}
		if IsTerminalStepState(target) {
			st.CompletedAt = &now
			if st.StartedAt != nil {
				duration := now.Sub(*st.StartedAt).Milliseconds()
				st.DurationMs = &duration
			}
		}
		if output != nil {
			st.Output = output
		}

		st.Status = target
		if err := m.store.UpdateStepTx(ctx, tx, st); err != nil {
			return err
		}
		result = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
