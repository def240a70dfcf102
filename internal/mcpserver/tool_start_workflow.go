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
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orchestra-run/orchestra/internal/orchestra"
)

// handleStartWorkflow implements the start_workflow tool.
func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "start_workflow", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowMutation() {
			return rateLimitedResponse(), nil
		}

		workflowName, err := request.RequireString("workflow_name")
		if err != nil {
			return errorResponse(fmt.Errorf("missing or invalid workflow_name: %w", err)), nil
		}

		args := request.GetArguments()

		params := orchestra.StartWorkflowParams{
			WorkflowName: workflowName,
			ExecutionID:  request.GetString("execution_id", ""),
			ProjectPath:  request.GetString("project_path", ""),
		}

		if params.ProjectPath != "" {
			if err := ValidatePath(params.ProjectPath); err != nil {
				return errorResponse(fmt.Errorf("invalid project_path: %w", err)), nil
			}
		}

		if timeoutMs := argInt(args, "timeout_ms", 0); timeoutMs > 0 {
			v := int64(timeoutMs)
			params.TimeoutMs = &v
		}

		if metadata, ok := args["metadata"].(map[string]any); ok {
			params.Metadata = metadata
		}

		result, err := s.orchestra.StartWorkflow(ctx, params)
		if err != nil {
			return errorResponse(err), nil
		}
		return jsonResponse(result)
	})
}
