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
)

// handleGetCurrentStep implements the get_current_step tool.
func (s *Server) handleGetCurrentStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "get_current_step", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return rateLimitedResponse(), nil
		}

		executionID, err := request.RequireString("execution_id")
		if err != nil {
			return errorResponse(fmt.Errorf("missing or invalid execution_id: %w", err)), nil
		}

		current, noActive, err := s.orchestra.GetCurrentStep(ctx, executionID)
		if err != nil {
			return errorResponse(err), nil
		}
		if noActive != nil {
			return jsonResponse(noActive)
		}
		return jsonResponse(current)
	})
}
