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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "tool", "connector")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StateError represents an operation that is not valid given an entity's
// current state (e.g. an Execution or Step transition outside the
// permitted table, a token that no longer matches the current step).
// Use this for InvalidTransition, TokenStepMismatch, StepNotRunning,
// NotResumable, AlreadyTerminal and similar state-machine rejections.
type StateError struct {
	// Kind identifies the specific state error (e.g. "InvalidTransition",
	// "TokenStepMismatch", "AlreadyTerminal").
	Kind string

	// Entity names what the error is about (e.g. "execution", "step").
	Entity string

	// CurrentState is the entity's state at the time of rejection, so the
	// caller can reconcile without a follow-up read.
	CurrentState string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.CurrentState != "" {
		return fmt.Sprintf("%s: %s (current state: %s)", e.Kind, e.Message, e.CurrentState)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DependencyError represents a step that cannot start because one or more
// of its declared dependencies have not completed.
type DependencyError struct {
	// StepName is the step that could not start.
	StepName string

	// Unmet lists the dependency step names that are not yet completed.
	Unmet []string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %q cannot start: unmet dependencies %v", e.StepName, e.Unmet)
}

// StoreError represents a failure in the underlying persistence layer.
// Use this to wrap database/sql and driver-level failures so callers can
// distinguish infrastructure errors from domain errors without inspecting
// driver-specific error types.
type StoreError struct {
	// Op names the store operation that failed (e.g. "transaction", "migrate").
	Op string

	// Cause is the underlying driver error.
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "database.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "LLM request", "workflow step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ContractValidationError represents a log entry's contract_input or
// contract_output failing schema validation against its layer's
// registered schema. No row is written when this is returned.
type ContractValidationError struct {
	// Layer names the logging layer whose schema rejected the payload.
	Layer string

	// Direction is "input" or "output".
	Direction string

	// Message is the human-readable validation failure.
	Message string
}

// Error implements the error interface.
func (e *ContractValidationError) Error() string {
	return fmt.Sprintf("contract validation failed for %s %s: %s", e.Layer, e.Direction, e.Message)
}
