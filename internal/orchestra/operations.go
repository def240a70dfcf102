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

package orchestra

import (
	"context"
	"time"

	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/store"
)

// Progress reports how many of a workflow's phases have completed.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// CurrentStepResult is returned by GetCurrentStep when the execution has
// an active step.
type CurrentStepResult struct {
	ExecutionID   string   `json:"execution_id"`
	WorkflowState string   `json:"workflow_state"`
	CurrentStep   string   `json:"current_step"`
	StepStatus    string   `json:"step_status"`
	AgentName     string   `json:"agent_name"`
	Progress      Progress `json:"progress"`
	Token         string   `json:"token,omitempty"`
	AgentContent  string   `json:"agent_content"`
	Instructions  string   `json:"instructions,omitempty"`
}

// NoActiveStepResult is returned by GetCurrentStep when the execution
// has reached a terminal or otherwise step-less state.
type NoActiveStepResult struct {
	WorkflowState string `json:"workflow_state"`
	Message       string `json:"message"`
}

// GetCurrentStep implements get_current_step. Exactly one of the two
// return values is non-nil.
func (o *Orchestra) GetCurrentStep(ctx context.Context, executionID string) (*CurrentStepResult, *NoActiveStepResult, error) {
	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	if exec.CurrentStepName == nil {
		return nil, &NoActiveStepResult{
			WorkflowState: exec.State,
			Message:       "execution has no active step in state " + exec.State,
		}, nil
	}

	step, err := o.store.GetStepByName(ctx, executionID, *exec.CurrentStepName)
	if err != nil {
		return nil, nil, err
	}

	steps, err := o.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	completed := 0
	for _, s := range steps {
		if s.Status == store.StepCompleted {
			completed++
		}
	}

	total, instructions := o.progressAndInstructions(exec.WorkflowName, *exec.CurrentStepName)

	var tok string
	if step.Token != nil {
		tok = *step.Token
	}

	return &CurrentStepResult{
		ExecutionID:   exec.ExecutionID,
		WorkflowState: exec.State,
		CurrentStep:   step.StepName,
		StepStatus:    step.Status,
		AgentName:     step.AgentName,
		Progress:      Progress{Completed: completed, Total: total},
		Token:         tok,
		AgentContent:  o.agentContent(step.AgentName),
		Instructions:  instructions,
	}, nil, nil
}

func (o *Orchestra) progressAndInstructions(workflowName, currentStepName string) (total int, instructions string) {
	wf, err := o.workflows.GetWorkflow(workflowName)
	if err == nil {
		total = len(wf.Phases)
		if p, ok := wf.PhaseByName(currentStepName); ok {
			instructions = p.Description
		}
	}
	return total, instructions
}

func (o *Orchestra) agentContent(agentName string) string {
	agent, err := o.agents.GetAgent(agentName)
	if err != nil {
		return ""
	}
	return agent.Content
}

// ExecutionStatus is returned by GetExecutionStatus.
type ExecutionStatus struct {
	WorkflowName string         `json:"workflow_name"`
	State        string         `json:"state"`
	CurrentStep  string         `json:"current_step,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	StepCounts   map[string]int `json:"step_counts"`
}

// GetExecutionStatus implements get_execution_status.
func (o *Orchestra) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	steps, err := o.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, s := range steps {
		counts[s.Status]++
	}

	status := &ExecutionStatus{
		WorkflowName: exec.WorkflowName,
		State:        exec.State,
		StartedAt:    exec.StartedAt,
		UpdatedAt:    exec.UpdatedAt,
		CompletedAt:  exec.CompletedAt,
		DurationMs:   exec.DurationMs,
		StepCounts:   counts,
	}
	if exec.CurrentStepName != nil {
		status.CurrentStep = *exec.CurrentStepName
	}
	return status, nil
}

// GetStepHistory implements get_step_history.
func (o *Orchestra) GetStepHistory(ctx context.Context, executionID string) ([]*store.Step, error) {
	if _, err := o.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return o.store.ListSteps(ctx, executionID)
}

// ListArtifacts implements list_artifacts.
func (o *Orchestra) ListArtifacts(ctx context.Context, executionID, stepName string) ([]*store.Artifact, error) {
	if _, err := o.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return o.artifacts.List(ctx, executionID, stepName)
}

// GetArtifact implements get_artifact.
func (o *Orchestra) GetArtifact(ctx context.Context, artifactID string) (*store.Artifact, error) {
	return o.artifacts.Get(ctx, artifactID)
}

// defaultTelemetryLimit and maxTelemetryLimit bound list_telemetry per
// spec.md §6 ("limit (1-1000, default 100)").
const (
	defaultTelemetryLimit = 100
	maxTelemetryLimit     = 1000
)

// ListTelemetry implements list_telemetry.
func (o *Orchestra) ListTelemetry(ctx context.Context, filter store.TelemetryFilter) ([]*store.TelemetryEvent, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultTelemetryLimit
	case filter.Limit > maxTelemetryLimit:
		filter.Limit = maxTelemetryLimit
	}
	return o.store.ListTelemetry(ctx, filter)
}

// ListWorkflows implements list_workflows.
func (o *Orchestra) ListWorkflows(ctx context.Context) []*registry.Workflow {
	return o.workflows.ListWorkflows()
}

// GetWorkflow implements get_workflow.
func (o *Orchestra) GetWorkflow(ctx context.Context, name string) (*registry.Workflow, error) {
	return o.workflows.GetWorkflow(name)
}

// CheckTimeouts implements check_timeouts.
func (o *Orchestra) CheckTimeouts(ctx context.Context, now time.Time) ([]*store.Execution, error) {
	return o.lifecycle.CheckTimeouts(ctx, now)
}

// ResumeResult is returned by ResumeExecution.
type ResumeResult struct {
	StepName     string `json:"step_name"`
	AgentName    string `json:"agent_name"`
	AgentContent string `json:"agent_content"`
	Token        string `json:"token"`
}

// ResumeExecution implements resume_execution.
func (o *Orchestra) ResumeExecution(ctx context.Context, executionID string) (*ResumeResult, error) {
	exec, err := o.lifecycle.ResumeExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	step, err := o.store.GetStepByName(ctx, executionID, *exec.CurrentStepName)
	if err != nil {
		return nil, err
	}

	var tok string
	if step.Token != nil {
		tok = *step.Token
	}

	return &ResumeResult{
		StepName:     step.StepName,
		AgentName:    step.AgentName,
		AgentContent: o.agentContent(step.AgentName),
		Token:        tok,
	}, nil
}
