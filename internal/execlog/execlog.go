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

// Package execlog is the append-only structured execution log: inserts
// are idempotent on (execution_id, layer, layer_id), and a layer may
// optionally register input/output schemas that contract_input and
// contract_output are checked against before the row is written.
package execlog

import (
	"context"
	"database/sql"
	"sync"

	"github.com/orchestra-run/orchestra/internal/store"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Validator checks a payload against a registered schema, returning a
// human-readable reason when it does not conform. No JSON Schema
// validation engine is wired into go.mod, so the default registry uses
// a small required-keys check rather than a full schema compiler; a
// caller that wants stricter checking can supply its own Validator.
type Validator func(payload map[string]any) (ok bool, reason string)

// schemaKey identifies a registered schema by layer and direction
// ("input" or "output").
type schemaKey struct {
	layer     string
	direction string
}

// Logger wraps the store's idempotent log insert with optional contract
// validation. The zero value (via New with no RegisterSchema calls)
// performs no validation.
type Logger struct {
	store *store.Store

	mu      sync.RWMutex
	schemas map[schemaKey]Validator
}

// New returns a Logger backed by st.
func New(st *store.Store) *Logger {
	return &Logger{store: st, schemas: make(map[schemaKey]Validator)}
}

// RegisterSchema installs a validator for a layer's input or output
// contract. direction must be "input" or "output".
func (l *Logger) RegisterSchema(layer, direction string, v Validator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.schemas[schemaKey{layer: layer, direction: direction}] = v
}

func (l *Logger) validator(layer, direction string) (Validator, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.schemas[schemaKey{layer: layer, direction: direction}]
	return v, ok
}

// Log inserts entry if no row with the same (execution_id, layer,
// layer_id) exists yet; otherwise the existing row is returned
// unchanged. If contract_input or contract_output is set and a schema
// is registered for entry.Layer, a validation failure returns
// ContractValidationError and writes nothing.
func (l *Logger) Log(ctx context.Context, entry *store.ExecutionLogEntry) (*store.ExecutionLogEntry, error) {
	if entry.ContractInput != nil {
		if v, ok := l.validator(entry.Layer, "input"); ok {
			if valid, reason := v(entry.ContractInput); !valid {
				return nil, &orchestraerrors.ContractValidationError{Layer: entry.Layer, Direction: "input", Message: reason}
			}
		}
	}
	if entry.ContractOutput != nil {
		if v, ok := l.validator(entry.Layer, "output"); ok {
			if valid, reason := v(entry.ContractOutput); !valid {
				return nil, &orchestraerrors.ContractValidationError{Layer: entry.Layer, Direction: "output", Message: reason}
			}
		}
	}

	var result *store.ExecutionLogEntry
	err := l.store.Transaction(ctx, "append_execution_log", func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := l.store.InsertExecutionLogTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		result = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Query lists log entries for an execution, optionally filtered by
// layer/level, most recent first, up to filter.Limit rows.
func (l *Logger) Query(ctx context.Context, filter store.ExecutionLogFilter) ([]*store.ExecutionLogEntry, error) {
	return l.store.ListExecutionLogs(ctx, filter)
}

// RequireKeys is a Validator constructor covering the common case of
// checking that a fixed set of keys is present in the payload.
func RequireKeys(keys ...string) Validator {
	return func(payload map[string]any) (bool, string) {
		for _, k := range keys {
			if _, ok := payload[k]; !ok {
				return false, "missing required key " + k
			}
		}
		return true, ""
	}
}
