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

// Package sequencer picks the next step given a workflow's phase list
// and an execution's current progress: it owns Start (mint the first
// step) and Advance (retire the current step, decide and mint the
// next one, or close the execution out).
package sequencer

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/statemachine"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/token"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Sequencer runs the start/advance algorithms against the store, state
// machine, token service and content registry.
type Sequencer struct {
	store     *store.Store
	machine   *statemachine.Machine
	workflows registry.WorkflowLookup
	agents    registry.AgentLookup
	tokenCfg  token.Config
}

// New returns a Sequencer wired to its collaborators.
func New(st *store.Store, machine *statemachine.Machine, workflows registry.WorkflowLookup, agents registry.AgentLookup, tokenCfg token.Config) *Sequencer {
	return &Sequencer{
		store:     st,
		machine:   machine,
		workflows: workflows,
		agents:    agents,
		tokenCfg:  tokenCfg,
	}
}

// StartResult is returned by Start.
type StartResult struct {
	ExecutionID string
	StepName    string
	AgentName   string
	AgentContent string
	Token       string
}

// Start implements the algorithm of spec §4.4: resolve the workflow's
// starting phase, validate its agent exists, then atomically create the
// Execution and its first running Step.
func (s *Sequencer) Start(ctx context.Context, executionID, workflowName, projectID string, metadata map[string]any, timeoutMs *int64) (*StartResult, error) {
	wf, err := s.workflows.GetWorkflow(workflowName)
	if err != nil {
		return nil, err
	}
	if len(wf.Phases) == 0 {
		return nil, &orchestraerrors.ValidationError{Field: "workflow_name", Message: "workflow has no phases", Suggestion: "define at least one phase with an empty depends_on"}
	}

	startPhase, ok := wf.StartingPhase()
	if !ok {
		return nil, &orchestraerrors.ValidationError{Field: "phases", Message: "no phase without depends_on; cannot determine a starting phase"}
	}

	agent, err := s.agents.GetAgent(startPhase.AgentName)
	if err != nil {
		return nil, err
	}

	var projectIDPtr *string
	if projectID != "" {
		projectIDPtr = &projectID
	}

	result := &StartResult{ExecutionID: executionID, StepName: startPhase.PhaseName, AgentName: agent.Name, AgentContent: agent.Content}

	err = s.store.Transaction(ctx, "start_workflow", func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		exec := &store.Execution{
			ExecutionID:  executionID,
			WorkflowName: workflowName,
			State:        store.ExecutionIdle,
			ProjectID:    projectIDPtr,
			Metadata:     metadata,
			TimeoutMs:    timeoutMs,
		}
		if err := s.store.CreateExecutionTx(ctx, tx, exec); err != nil {
			return err
		}

		tok, err := token.Issue(executionID, startPhase.PhaseName, s.tokenCfg)
		if err != nil {
			return err
		}

		step := &store.Step{
			StepID:      uuid.NewString(),
			ExecutionID: executionID,
			StepName:    startPhase.PhaseName,
			AgentName:   agent.Name,
			Status:      store.StepRunning,
			DependsOn:   startPhase.DependsOn,
			StartedAt:   &now,
			Token:       &tok,
		}
		if err := s.store.CreateStepTx(ctx, tx, step); err != nil {
			return err
		}

		stepName := startPhase.PhaseName
		exec.State = store.ExecutionRunning
		exec.CurrentStepName = &stepName
		exec.StartedAt = &now
		if err := s.store.UpdateExecutionTx(ctx, tx, exec); err != nil {
			return err
		}

		result.Token = tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdvanceResult is returned by Advance. WorkflowState is set to
// "completed" when the execution has no further phase; otherwise
// StepName/AgentName/AgentContent/Token describe the newly minted step.
type AdvanceResult struct {
	ExecutionID   string
	WorkflowState string
	StepName      string
	AgentName     string
	AgentContent  string
	Token         string
}

// Advance implements spec §4.4's advance algorithm: validate the token,
// confirm it matches the execution's current step, retire that step
// with the given output, then either close the execution out or mint
// the next step.
func (s *Sequencer) Advance(ctx context.Context, tokenString string, output store.StepOutput, now time.Time) (*AdvanceResult, error) {
	claims, err := token.Validate(tokenString, s.tokenCfg, now)
	if err != nil {
		return nil, err
	}

	exec, err := s.store.GetExecution(ctx, claims.ExecutionID)
	if err != nil {
		return nil, err
	}

	if exec.State == store.ExecutionPaused {
		return nil, &orchestraerrors.StateError{Kind: "NotRunnable", Entity: "execution", CurrentState: exec.State, Message: "execution is paused"}
	}
	if statemachine.IsTerminalExecutionState(exec.State) {
		return nil, &orchestraerrors.StateError{Kind: "AlreadyTerminal", Entity: "execution", CurrentState: exec.State, Message: "execution has already reached a terminal state"}
	}
	// A token issued before the execution left the running state (e.g. a
	// stale pre-timeout token the lifecycle sweep has since moved to
	// timeout, or one left over from an escalation) must not be allowed
	// to silently retire a step: only a running execution is advanceable.
	if exec.State != store.ExecutionRunning {
		return nil, &orchestraerrors.StateError{Kind: "NotRunnable", Entity: "execution", CurrentState: exec.State, Message: "execution is not running"}
	}

	if exec.CurrentStepName == nil || *exec.CurrentStepName != claims.StepName {
		return nil, &orchestraerrors.StateError{Kind: "TokenStepMismatch", Entity: "step", Message: "token step does not match the execution's current step"}
	}

	wf, err := s.workflows.GetWorkflow(exec.WorkflowName)
	if err != nil {
		return nil, err
	}

	result := &AdvanceResult{ExecutionID: exec.ExecutionID}

	err = s.store.Transaction(ctx, "advance_step", func(ctx context.Context, tx *sql.Tx) error {
		current, err := s.store.GetStepByNameTx(ctx, tx, exec.ExecutionID, claims.StepName)
		if err != nil {
			return err
		}
		if current.Status != store.StepRunning {
			return &orchestraerrors.StateError{Kind: "StepNotRunning", Entity: "step", CurrentState: current.Status, Message: "step is not running"}
		}

		completedAt := now
		if current.StartedAt != nil {
			duration := completedAt.Sub(*current.StartedAt).Milliseconds()
			current.DurationMs = &duration
		}
		current.Status = store.StepCompleted
		current.CompletedAt = &completedAt
		current.Output = &output
		current.Token = nil
		if err := s.store.UpdateStepTx(ctx, tx, current); err != nil {
			return err
		}

		completedSteps, err := s.completedStepNamesTx(ctx, tx, exec.ExecutionID)
		if err != nil {
			return err
		}

		next, hasNext := nextPhase(wf, completedSteps)
		if !hasNext {
			// The store transaction already open here can't call
			// s.machine.TransitionExecution directly (Store.Transaction
			// rejects nested transactions), so the Machine is asked to
			// gate the write against the permitted-transition table
			// without touching the store itself.
			if err := s.machine.ValidateExecutionTransition(exec.State, store.ExecutionCompleted); err != nil {
				return err
			}
			exec.State = store.ExecutionCompleted
			exec.CompletedAt = &completedAt
			if exec.StartedAt != nil {
				duration := completedAt.Sub(*exec.StartedAt).Milliseconds()
				exec.DurationMs = &duration
			}
			exec.CurrentStepName = nil
			if err := s.store.UpdateExecutionTx(ctx, tx, exec); err != nil {
				return err
			}
			result.WorkflowState = store.ExecutionCompleted
			return nil
		}

		agent, err := s.agents.GetAgent(next.AgentName)
		if err != nil {
			if vErr := s.machine.ValidateExecutionTransition(exec.State, store.ExecutionFailed); vErr != nil {
				return vErr
			}
			exec.State = store.ExecutionFailed
			exec.CompletedAt = &completedAt
			_ = s.store.UpdateExecutionTx(ctx, tx, exec)
			return err
		}

		tok, err := token.Issue(exec.ExecutionID, next.PhaseName, s.tokenCfg)
		if err != nil {
			return err
		}

		nextStarted := now
		nextStep := &store.Step{
			StepID:      uuid.NewString(),
			ExecutionID: exec.ExecutionID,
			StepName:    next.PhaseName,
			AgentName:   agent.Name,
			Status:      store.StepRunning,
			DependsOn:   next.DependsOn,
			StartedAt:   &nextStarted,
			Token:       &tok,
		}
		if err := s.store.CreateStepTx(ctx, tx, nextStep); err != nil {
			return err
		}

		nextName := next.PhaseName
		exec.CurrentStepName = &nextName
		if err := s.store.UpdateExecutionTx(ctx, tx, exec); err != nil {
			return err
		}

		result.StepName = next.PhaseName
		result.AgentName = agent.Name
		result.AgentContent = agent.Content
		result.Token = tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Sequencer) completedStepNamesTx(ctx context.Context, tx *sql.Tx, executionID string) (map[string]bool, error) {
	steps, err := s.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(steps))
	for _, st := range steps {
		if st.Status == store.StepCompleted {
			completed[st.StepName] = true
		}
	}
	return completed, nil
}

// nextPhase applies the Step Sequencer's tie-breaking rule: among phases
// not yet present among completedSteps whose depends_on is fully
// satisfied, pick the one with the earliest declared index.
func nextPhase(wf *registry.Workflow, completedSteps map[string]bool) (registry.Phase, bool) {
	for _, p := range wf.Phases {
		if completedSteps[p.PhaseName] {
			continue
		}
		if dependenciesSatisfied(p, completedSteps) {
			return p, true
		}
	}
	return registry.Phase{}, false
}

func dependenciesSatisfied(p registry.Phase, completedSteps map[string]bool) bool {
	for _, dep := range p.DependsOn {
		if !completedSteps[dep] {
			return false
		}
	}
	return true
}

// ReadySteps returns the phases of wf whose dependencies are satisfied
// by completedSteps but that have not yet been created. Exposed so a
// future parallel scheduler can fan out beyond the sequential v1 path
// without changing the state machine.
func ReadySteps(wf *registry.Workflow, completedSteps map[string]bool, createdSteps map[string]bool) []registry.Phase {
	var ready []registry.Phase
	for _, p := range wf.Phases {
		if createdSteps[p.PhaseName] {
			continue
		}
		if dependenciesSatisfied(p, completedSteps) {
			ready = append(ready, p)
		}
	}
	return ready
}
