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

// Package orchestra implements the Operation Surface: the twelve
// functions a transport adapter (internal/mcpserver) calls to drive a
// workflow execution. It wires the Step Sequencer, Lifecycle Manager,
// Execution Logger, Artifact/Finding stores, Escalation Checker and
// content registry behind one cohesive API, so the transport layer
// never touches those collaborators directly.
package orchestra

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/artifact"
	"github.com/orchestra-run/orchestra/internal/escalation"
	"github.com/orchestra-run/orchestra/internal/execlog"
	"github.com/orchestra-run/orchestra/internal/finding"
	"github.com/orchestra-run/orchestra/internal/lifecycle"
	"github.com/orchestra-run/orchestra/internal/project"
	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/sequencer"
	"github.com/orchestra-run/orchestra/internal/store"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Orchestra exposes the twelve Operation Surface functions of spec.md §6.
type Orchestra struct {
	store      *store.Store
	sequencer  *sequencer.Sequencer
	lifecycle  *lifecycle.Manager
	execlog    *execlog.Logger
	artifacts  *artifact.Store
	findings   *finding.Store
	projects   *project.Store
	escalation *escalation.Checker
	workflows  registry.WorkflowLookup
	agents     registry.AgentLookup
	logger     *slog.Logger
}

// New wires an Orchestra from its collaborators. execlog and findings
// are held but not called by any operation. projects and escalation may
// be nil, in which case project resolution and the escalation check are
// skipped. artifacts is not nil-checked: ListArtifacts and GetArtifact
// call it directly.
func New(
	st *store.Store,
	seq *sequencer.Sequencer,
	lc *lifecycle.Manager,
	el *execlog.Logger,
	artifacts *artifact.Store,
	findings *finding.Store,
	projects *project.Store,
	esc *escalation.Checker,
	workflows registry.WorkflowLookup,
	agents registry.AgentLookup,
	logger *slog.Logger,
) *Orchestra {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestra{
		store:      st,
		sequencer:  seq,
		lifecycle:  lc,
		execlog:    el,
		artifacts:  artifacts,
		findings:   findings,
		projects:   projects,
		escalation: esc,
		workflows:  workflows,
		agents:     agents,
		logger:     logger,
	}
}

// StartWorkflowParams is the input to StartWorkflow.
type StartWorkflowParams struct {
	WorkflowName string
	ExecutionID  string
	ProjectPath  string
	TimeoutMs    *int64
	Metadata     map[string]any
}

// StepResult is the shared shape for a freshly minted or advanced step:
// {execution_id, step_name, agent_name, agent_content, workflow_state,
// token} from spec.md §6.
type StepResult struct {
	ExecutionID   string `json:"execution_id"`
	StepName      string `json:"step_name"`
	AgentName     string `json:"agent_name"`
	AgentContent  string `json:"agent_content"`
	WorkflowState string `json:"workflow_state"`
	Token         string `json:"token"`
}

// StartWorkflow implements start_workflow. It auto-generates
// execution_id when the caller omits one, and rejects a caller-supplied
// execution_id that already exists with a ValidationError carrying the
// DuplicateExecutionId reason, since the Step Sequencer itself only
// sees a raw store uniqueness violation.
func (o *Orchestra) StartWorkflow(ctx context.Context, params StartWorkflowParams) (*StepResult, error) {
	executionID := params.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	} else if _, err := o.store.GetExecution(ctx, executionID); err == nil {
		return nil, &orchestraerrors.ValidationError{
			Field:      "execution_id",
			Message:    "DuplicateExecutionId: an execution with this id already exists",
			Suggestion: "omit execution_id to have one generated, or choose a new one",
		}
	}

	var projectID string
	if params.ProjectPath != "" && o.projects != nil {
		proj, err := o.projects.Resolve(ctx, params.ProjectPath, "")
		if err != nil {
			return nil, err
		}
		projectID = proj.ID
	}

	result, err := o.sequencer.Start(ctx, executionID, params.WorkflowName, projectID, params.Metadata, params.TimeoutMs)
	if err != nil {
		return nil, err
	}

	return &StepResult{
		ExecutionID:   result.ExecutionID,
		StepName:      result.StepName,
		AgentName:     result.AgentName,
		AgentContent:  result.AgentContent,
		WorkflowState: store.ExecutionRunning,
		Token:         result.Token,
	}, nil
}

// AdvanceStepParams is the input to AdvanceStep.
type AdvanceStepParams struct {
	Token  string
	Output store.StepOutput
}

// AdvanceResult is returned by AdvanceStep: either a running StepResult
// or a terminal {execution_id, workflow_state} pair when the workflow
// has no further phase.
type AdvanceResult struct {
	ExecutionID   string `json:"execution_id"`
	WorkflowState string `json:"workflow_state"`
	StepName      string `json:"step_name,omitempty"`
	AgentName     string `json:"agent_name,omitempty"`
	AgentContent  string `json:"agent_content,omitempty"`
	Token         string `json:"token,omitempty"`
}

// AdvanceStep implements advance_step, then runs the Escalation Checker
// against the execution's accumulated findings/artifacts so an
// escalation-worthy step output is reflected before the caller's next
// call.
func (o *Orchestra) AdvanceStep(ctx context.Context, params AdvanceStepParams) (*AdvanceResult, error) {
	result, err := o.sequencer.Advance(ctx, params.Token, params.Output, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if o.escalation != nil && result.WorkflowState != store.ExecutionCompleted {
		if _, escErr := o.escalation.Evaluate(ctx, result.ExecutionID); escErr != nil {
			o.logger.Error("escalation evaluation failed", "execution_id", result.ExecutionID, "error", escErr)
		}
	}

	if result.WorkflowState == store.ExecutionCompleted {
		return &AdvanceResult{ExecutionID: result.ExecutionID, WorkflowState: store.ExecutionCompleted}, nil
	}

	return &AdvanceResult{
		ExecutionID:   result.ExecutionID,
		WorkflowState: store.ExecutionRunning,
		StepName:      result.StepName,
		AgentName:     result.AgentName,
		AgentContent:  result.AgentContent,
		Token:         result.Token,
	}, nil
}
