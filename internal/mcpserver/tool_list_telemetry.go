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

	"github.com/orchestra-run/orchestra/internal/store"
)

// handleListTelemetry implements the list_telemetry tool.
func (s *Server) handleListTelemetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.withSpan(ctx, "list_telemetry", func(ctx context.Context) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return rateLimitedResponse(), nil
		}

		args := request.GetArguments()
		filter := store.TelemetryFilter{
			ExecutionID: request.GetString("execution_id", ""),
			EventType:   request.GetString("event_type", ""),
			Limit:       argInt(args, "limit", 0),
		}

		events, err := s.orchestra.ListTelemetry(ctx, filter)
		if err != nil {
			return errorResponse(err), nil
		}

		wire := make([]telemetryEvent, 0, len(events))
		for _, e := range events {
			wire = append(wire, newTelemetryEvent(e))
		}
		return jsonResponse(wire)
	})
}
