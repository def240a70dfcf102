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
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleCheckTimeouts implements the check_timeouts tool. It always
// sweeps against the current wall-clock time; the background Sweeper
// covers cadence between caller-initiated checks.
func (s *Server) handleCheckTimeouts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "check_timeouts", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return rateLimitedResponse(), nil
		}

		timedOut, err := s.orchestra.CheckTimeouts(ctx, time.Now().UTC())
		if err != nil {
			return errorResponse(err), nil
		}

		wire := make([]timedOutExecution, 0, len(timedOut))
		for _, e := range timedOut {
			wire = append(wire, newTimedOutExecution(e))
		}
		return jsonResponse(wire)
	})
}
