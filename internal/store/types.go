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

// Package store provides the embedded relational persistence layer: a
// single SQLite file holding executions, steps, artifacts, findings,
// execution logs, telemetry events and project associations. It is the
// sole source of truth — no component caches mutable workflow state
// in memory between requests.
package store

import "time"

// Execution states (caller-visible). See the permitted-transition table
// owned by internal/statemachine.
const (
	ExecutionIdle       = "idle"
	ExecutionRunning     = "running"
	ExecutionCompleted   = "completed"
	ExecutionFailed      = "failed"
	ExecutionPaused      = "paused"
	ExecutionAbandoned   = "abandoned"
	ExecutionDiverged    = "diverged"
	ExecutionTimeout     = "timeout"
	ExecutionEscalated   = "escalated"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Artifact types.
const (
	ArtifactFile   = "file"
	ArtifactData   = "data"
	ArtifactReport = "report"
	ArtifactFinding = "finding"
)

// Finding severities, ordered least to most severe.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Execution Logger layers.
const (
	LayerOrchestrator = "orchestrator"
	LayerWorkflow     = "workflow"
	LayerStep         = "step"
	LayerAgentTask    = "agent_task"
)

// Execution is a single run of a workflow from start to terminal state.
// Mutated through UpdateExecutionTx by the state machine, the sequencer
// and the lifecycle manager; never deleted by the core.
type Execution struct {
	ExecutionID     string
	WorkflowName    string
	State           string
	CurrentStepName *string
	ProjectID       *string
	StartedAt       *time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	DurationMs      *int64
	TimeoutMs       *int64
	Metadata        map[string]any
}

// StepOutput is the structured payload a caller attaches when advancing a
// step: a human summary plus references to artifacts/findings it produced
// and an optional hint for which phase should run next.
type StepOutput struct {
	Summary      string   `json:"summary"`
	ArtifactIDs  []string `json:"artifact_ids,omitempty"`
	FindingIDs   []string `json:"finding_ids,omitempty"`
	NextStepHint string   `json:"next_step_hint,omitempty"`
}

// Step is the runtime instance of a workflow phase within one Execution.
type Step struct {
	StepID      string
	ExecutionID string
	StepName    string
	AgentName   string
	Status      string
	DependsOn   []string
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	Output      *StepOutput
	Token       *string
}

// Artifact is an immutable blob produced during an execution.
type Artifact struct {
	ArtifactID   string
	ExecutionID  string
	StepName     string
	ArtifactType string
	Name         string
	Content      []byte
	ContentType  string
	SizeBytes    int64
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Finding is a structured observation produced during a run, optionally
// scoped to a project or marked global.
type Finding struct {
	FindingID   string
	ExecutionID string
	StepID      *string
	Severity    string
	Category    string
	Title       string
	Description string
	Tags        []string
	IsGlobal    bool
	ProjectID   *string
	Location    string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// FindingFilter narrows a Finding query.
type FindingFilter struct {
	ExecutionID string
	ProjectID   string
	Severities  []string
	Category    string
	Tags        []string
	Search      string
	Limit       int
}

// ExecutionLogEntry is an append-only structured log row, unique on
// (execution_id, layer, layer_id) for idempotent re-logging.
type ExecutionLogEntry struct {
	ID             int64
	ExecutionID    string
	Layer          string
	LayerID        string
	LogLevel       string
	Message        string
	Context        map[string]any
	ContractInput  map[string]any
	ContractOutput map[string]any
	Timestamp      time.Time
}

// ExecutionLogFilter narrows an ExecutionLogEntry query.
type ExecutionLogFilter struct {
	ExecutionID string
	Layer       string
	LogLevel    string
	Limit       int
}

// TelemetryEvent is an append-only, best-effort observability record.
type TelemetryEvent struct {
	ID          int64
	EventType   string
	ExecutionID *string
	StepID      *string
	AgentName   *string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// TelemetryFilter narrows a TelemetryEvent query.
type TelemetryFilter struct {
	ExecutionID string
	EventType   string
	Limit       int
}

// ProjectAssociation scopes findings to a filesystem path.
type ProjectAssociation struct {
	ID          string
	Name        string
	Path        string
	IsGitRepo   bool
	Metadata    map[string]any
	DiscoveredAt time.Time
	LastUsedAt   *time.Time
}
