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

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers the twelve Operation Surface functions as MCP
// tools with the underlying server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "start_workflow",
		Description: "Start a new workflow execution and receive the first step's agent persona and continuation token.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_name": map[string]interface{}{"type": "string", "description": "Name of the registered workflow to run"},
				"execution_id":  map[string]interface{}{"type": "string", "description": "Caller-supplied execution id; a UUID is generated if omitted"},
				"project_path":  map[string]interface{}{"type": "string", "description": "Filesystem path of the project this run is scoped to"},
				"timeout_ms":    map[string]interface{}{"type": "integer", "description": "Overall execution timeout in milliseconds"},
				"metadata":      map[string]interface{}{"type": "object", "description": "Arbitrary caller metadata stored with the execution"},
			},
			Required: []string{"workflow_name"},
		},
	}, s.handleStartWorkflow)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "advance_step",
		Description: "Retire the current step with its output and receive the next step (or a terminal completion).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token":  map[string]interface{}{"type": "string", "description": "The continuation token returned by start_workflow or the previous advance_step"},
				"output": map[string]interface{}{"type": "object", "description": "{summary, artifact_ids?, finding_ids?, next_step_hint?}"},
			},
			Required: []string{"token", "output"},
		},
	}, s.handleAdvanceStep)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_current_step",
		Description: "Fetch the execution's currently active step, or a no-active-step message if it has reached a terminal state.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"execution_id": map[string]interface{}{"type": "string"}},
			Required:   []string{"execution_id"},
		},
	}, s.handleGetCurrentStep)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_execution_status",
		Description: "Fetch an execution's workflow name, state, current step, timestamps, duration and per-status step counts.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"execution_id": map[string]interface{}{"type": "string"}},
			Required:   []string{"execution_id"},
		},
	}, s.handleGetExecutionStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_step_history",
		Description: "List every step of an execution in the order they ran, including status, timing and recorded output.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"execution_id": map[string]interface{}{"type": "string"}},
			Required:   []string{"execution_id"},
		},
	}, s.handleGetStepHistory)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_artifacts",
		Description: "List artifact summaries (content omitted) for an execution, optionally filtered to one step.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"execution_id": map[string]interface{}{"type": "string"},
				"step_name":    map[string]interface{}{"type": "string"},
			},
			Required: []string{"execution_id"},
		},
	}, s.handleListArtifacts)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_artifact",
		Description: "Fetch one artifact's full content (base64-encoded) by id.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"artifact_id": map[string]interface{}{"type": "string"}},
			Required:   []string{"artifact_id"},
		},
	}, s.handleGetArtifact)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_telemetry",
		Description: "List telemetry events, newest first, optionally filtered by execution or event type.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"execution_id": map[string]interface{}{"type": "string"},
				"event_type":   map[string]interface{}{"type": "string"},
				"limit":        map[string]interface{}{"type": "integer", "description": "1-1000, default 100"},
			},
		},
	}, s.handleListTelemetry)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_workflows",
		Description: "List every registered workflow definition.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListWorkflows)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_workflow",
		Description: "Fetch one workflow's full definition including its ordered phases.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
			Required:   []string{"name"},
		},
	}, s.handleGetWorkflow)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "check_timeouts",
		Description: "Run the timeout sweep now and return every execution it auto-transitioned.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleCheckTimeouts)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "resume_execution",
		Description: "Resume a timed-out or escalated execution, minting a fresh continuation token for its current step.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"execution_id": map[string]interface{}{"type": "string"}},
			Required:   []string{"execution_id"},
		},
	}, s.handleResumeExecution)
}
