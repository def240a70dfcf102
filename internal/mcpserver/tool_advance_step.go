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
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orchestra-run/orchestra/internal/orchestra"
	"github.com/orchestra-run/orchestra/internal/store"
)

// handleAdvanceStep implements the advance_step tool.
func (s *Server) handleAdvanceStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "advance_step", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowMutation() {
			return rateLimitedResponse(), nil
		}

		token, err := request.RequireString("token")
		if err != nil {
			return errorResponse(fmt.Errorf("missing or invalid token: %w", err)), nil
		}

		args := request.GetArguments()
		outputArg, ok := args["output"]
		if !ok {
			return errorResponse(fmt.Errorf("missing required argument: output")), nil
		}

		// Round-trip through JSON rather than a type assertion, since
		// output arrives as a generic map[string]any decoded from the
		// tool call's JSON payload.
		raw, err := json.Marshal(outputArg)
		if err != nil {
			return errorResponse(fmt.Errorf("invalid output: %w", err)), nil
		}
		var output store.StepOutput
		if err := json.Unmarshal(raw, &output); err != nil {
			return errorResponse(fmt.Errorf("invalid output: %w", err)), nil
		}

		result, err := s.orchestra.AdvanceStep(ctx, orchestra.AdvanceStepParams{Token: token, Output: output})
		if err != nil {
			return errorResponse(err), nil
		}
		return jsonResponse(result)
	})
}
