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

// Package mcpserver exposes the Operation Surface (internal/orchestra)
// over the Model Context Protocol via stdio transport: one MCP tool per
// operation, each wrapped in a trace span, a metrics observation, and a
// rate-limit check (the mutation bucket for the three state-mutating
// operations, the call bucket for the rest).
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchestra-run/orchestra/internal/config"
	orchestralog "github.com/orchestra-run/orchestra/internal/log"
	"github.com/orchestra-run/orchestra/internal/metrics"
	"github.com/orchestra-run/orchestra/internal/orchestra"
	"github.com/orchestra-run/orchestra/internal/tracing"
)

// Server wraps the MCP server and exposes the orchestrator's operations
// as tools.
type Server struct {
	mcpServer   *server.MCPServer
	name        string
	version     string
	orchestra   *orchestra.Orchestra
	rateLimiter *RateLimiter
	tracer      *tracing.Provider
	logger      *slog.Logger
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name (default: "orchestra").
	Name string

	// Version is the orchestra build version.
	Version string

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string

	// Orchestra is the Operation Surface this server exposes. Required.
	Orchestra *orchestra.Orchestra

	// Tracer emits a span per operation. May be nil to disable tracing.
	Tracer *tracing.Provider

	// RateLimit bounds tool-call throughput.
	RateLimit config.RateLimitConfig
}

// createLogger creates a logger with the specified log level.
// Writes to stderr to avoid interfering with MCP stdio protocol.
func createLogger(levelStr string) (*slog.Logger, error) {
	var level slog.Level

	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), nil
}

// NewServer creates a new MCP server instance.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "orchestra"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Orchestra == nil {
		return nil, fmt.Errorf("mcpserver: ServerConfig.Orchestra is required")
	}

	logger, err := createLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mcpServer := server.NewMCPServer(cfg.Name, cfg.Version)

	s := &Server{
		mcpServer:   mcpServer,
		name:        cfg.Name,
		version:     cfg.Version,
		orchestra:   cfg.Orchestra,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		tracer:      cfg.Tracer,
		logger:      logger,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting orchestra MCP server", slog.String("version", s.version))

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down orchestra MCP server")
	if s.tracer != nil {
		return s.tracer.Shutdown(ctx)
	}
	return nil
}

// withSpan runs fn inside a trace span (if tracing is configured),
// records the operation's outcome in metrics either way, and logs a
// request/response pair for every call.
func (s *Server) withSpan(ctx context.Context, operation string, fn func(ctx context.Context) (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	req := &orchestralog.OperationRequest{Name: operation}
	start := time.Now()
	orchestralog.LogOperationRequest(s.logger, req)

	var result *mcp.CallToolResult
	var err error
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartOperation(ctx, operation)
		result, err = fn(ctx)
		tracing.End(span, err)
	} else {
		result, err = fn(ctx)
	}

	resp := &orchestralog.OperationResponse{
		Success:    err == nil && (result == nil || !result.IsError),
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		resp.Error = err.Error()
	case result != nil && result.IsError:
		resp.Error = "tool returned an error result"
	}
	orchestralog.LogOperationResponse(s.logger, req, resp)

	s.record(operation, result, err)
	return result, err
}

func (s *Server) record(operation string, result *mcp.CallToolResult, err error) {
	outcome := "ok"
	if err != nil || (result != nil && result.IsError) {
		outcome = "error"
	}
	metrics.RecordOperation(operation, outcome)
}

// errorResponse formats err as a structured {"error": "..."} tool result
// rather than a bare string, so callers can reliably locate the message.
func errorResponse(err error) *mcp.CallToolResult {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	result := mcp.NewToolResultError(string(payload))
	return result
}

// jsonResponse marshals v as indented JSON into a successful tool
// result, or falls back to an error result if marshaling fails (which
// would indicate a bug in the payload shape, not caller input).
func jsonResponse(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: failed to encode response: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func rateLimitedResponse() *mcp.CallToolResult {
	return mcp.NewToolResultError("rate limit exceeded, please retry shortly")
}

// argInt reads an integer-valued tool argument out of a decoded JSON
// arguments map, where JSON numbers surface as float64. Returns def if
// the key is absent or not a number.
func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
