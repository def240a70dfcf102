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

package log

import "log/slog"

// OperationRequest describes an incoming Operation Surface call for logging
// purposes (e.g. start_workflow, advance_step, get_execution_status).
type OperationRequest struct {
	// Name is the operation name as exposed on the Operation Surface.
	Name string

	// ExecutionID is the execution the call applies to, if any.
	ExecutionID string

	// StepName is the step the call applies to, if any.
	StepName string

	// Metadata contains additional request metadata (e.g. workflow name).
	Metadata map[string]interface{}
}

// OperationResponse describes the outcome of an Operation Surface call.
type OperationResponse struct {
	// Success indicates whether the operation completed without error.
	Success bool

	// Error is the error message if the operation failed.
	Error string

	// DurationMs is how long the operation took in milliseconds.
	DurationMs int64

	// Metadata contains additional response metadata.
	Metadata map[string]interface{}
}

// LogOperationRequest logs an incoming Operation Surface call.
func LogOperationRequest(logger *slog.Logger, req *OperationRequest) {
	attrs := []any{
		"event", "operation_request",
		OperationKey, req.Name,
	}

	if req.ExecutionID != "" {
		attrs = append(attrs, ExecutionIDKey, req.ExecutionID)
	}

	if req.StepName != "" {
		attrs = append(attrs, StepNameKey, req.StepName)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("operation received", attrs...)
}

// LogOperationResponse logs the result of an Operation Surface call.
func LogOperationResponse(logger *slog.Logger, req *OperationRequest, resp *OperationResponse) {
	attrs := []any{
		"event", "operation_response",
		OperationKey, req.Name,
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	}

	if req.ExecutionID != "" {
		attrs = append(attrs, ExecutionIDKey, req.ExecutionID)
	}

	if req.StepName != "" {
		attrs = append(attrs, StepNameKey, req.StepName)
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	for k, v := range resp.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "operation completed"

	if !resp.Success {
		level = slog.LevelError
		message = "operation failed"
	}

	logger.Log(nil, level, message, attrs...)
}

