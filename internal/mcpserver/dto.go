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

package mcpserver

import (
	"encoding/base64"
	"time"

	"github.com/orchestra-run/orchestra/internal/store"
)

// stepSummary is the wire shape of a Step for get_step_history: every
// field of store.Step except the single-use token, which a history
// listing must never surface.
type stepSummary struct {
	StepID      string            `json:"step_id"`
	StepName    string            `json:"step_name"`
	AgentName   string            `json:"agent_name"`
	Status      string            `json:"status"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  *int64            `json:"duration_ms,omitempty"`
	Output      *store.StepOutput `json:"output,omitempty"`
}

func newStepSummary(s *store.Step) stepSummary {
	return stepSummary{
		StepID:      s.StepID,
		StepName:    s.StepName,
		AgentName:   s.AgentName,
		Status:      s.Status,
		DependsOn:   s.DependsOn,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		DurationMs:  s.DurationMs,
		Output:      s.Output,
	}
}

// artifactSummary is the wire shape of list_artifacts: content omitted
// per spec.md §6 ("list of artifact summaries (content omitted)").
type artifactSummary struct {
	ArtifactID   string         `json:"artifact_id"`
	StepName     string         `json:"step_name"`
	ArtifactType string         `json:"artifact_type"`
	Name         string         `json:"name"`
	ContentType  string         `json:"content_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newArtifactSummary(a *store.Artifact) artifactSummary {
	return artifactSummary{
		ArtifactID:   a.ArtifactID,
		StepName:     a.StepName,
		ArtifactType: a.ArtifactType,
		Name:         a.Name,
		ContentType:  a.ContentType,
		SizeBytes:    a.SizeBytes,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
	}
}

// artifactDetail is the wire shape of get_artifact: the full artifact
// including content, base64-encoded since MCP tool results are text.
type artifactDetail struct {
	artifactSummary
	Content string `json:"content"`
}

func newArtifactDetail(a *store.Artifact) artifactDetail {
	return artifactDetail{
		artifactSummary: newArtifactSummary(a),
		Content:         base64.StdEncoding.EncodeToString(a.Content),
	}
}

// telemetryEvent is the wire shape of list_telemetry.
type telemetryEvent struct {
	ID          int64          `json:"id"`
	EventType   string         `json:"event_type"`
	ExecutionID *string        `json:"execution_id,omitempty"`
	StepID      *string        `json:"step_id,omitempty"`
	AgentName   *string        `json:"agent_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func newTelemetryEvent(e *store.TelemetryEvent) telemetryEvent {
	return telemetryEvent{
		ID:          e.ID,
		EventType:   e.EventType,
		ExecutionID: e.ExecutionID,
		StepID:      e.StepID,
		AgentName:   e.AgentName,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt,
	}
}

// timedOutExecution is the wire shape of one entry in check_timeouts'
// result list.
type timedOutExecution struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowName string `json:"workflow_name"`
	State        string `json:"state"`
}

func newTimedOutExecution(e *store.Execution) timedOutExecution {
	return timedOutExecution{ExecutionID: e.ExecutionID, WorkflowName: e.WorkflowName, State: e.State}
}
