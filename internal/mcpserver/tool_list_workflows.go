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

	"github.com/mark3labs/mcp-go/mcp"
)

// handleListWorkflows implements the list_workflows tool.
func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "list_workflows", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return rateLimitedResponse(), nil
		}
		return jsonResponse(s.orchestra.ListWorkflows(ctx))
	})
}

// handleGetWorkflow implements the get_workflow tool.
func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "get_workflow", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return rateLimitedResponse(), nil
		}

		name, err := request.RequireString("name")
		if err != nil {
			return errorResponse(err), nil
		}

		wf, err := s.orchestra.GetWorkflow(ctx, name)
		if err != nil {
			return errorResponse(err), nil
		}
		return jsonResponse(wf)
	})
}
