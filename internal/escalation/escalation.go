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

// Package escalation watches an execution's accumulated findings and
// blocker artifacts and moves it to the escalated state once any
// configured threshold is crossed, so a human gets pulled in before
// the step sequence runs further on a compromised foundation.
package escalation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/orchestra-run/orchestra/internal/artifact"
	"github.com/orchestra-run/orchestra/internal/config"
	"github.com/orchestra-run/orchestra/internal/finding"
	"github.com/orchestra-run/orchestra/internal/statemachine"
	"github.com/orchestra-run/orchestra/internal/store"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// blockerArtifactType is the artifact_type value that marks an artifact
// as a release blocker for escalation-counting purposes.
const blockerArtifactType = "blocker"

// Checker decides whether an execution's findings and artifacts have
// crossed an escalation threshold.
type Checker struct {
	findings  *finding.Store
	artifacts *artifact.Store
	machine   *statemachine.Machine
	thresh    config.EscalationConfig
	logger    *slog.Logger
}

// New builds a Checker against the given thresholds.
func New(findings *finding.Store, artifacts *artifact.Store, machine *statemachine.Machine, thresh config.EscalationConfig, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{findings: findings, artifacts: artifacts, machine: machine, thresh: thresh, logger: logger}
}

// Counts summarizes what drove (or didn't drive) an escalation decision.
type Counts struct {
	Critical int
	High     int
	Blockers int
}

// Exceeded reports whether c crosses any configured threshold.
func (c Counts) Exceeded(thresh config.EscalationConfig) bool {
	return c.Critical >= thresh.CriticalThreshold ||
		c.High >= thresh.HighThreshold ||
		c.Blockers >= thresh.TotalBlockerThreshold
}

// Evaluate tallies findings and blocker artifacts for executionID and,
// if a threshold is exceeded and the execution is still running,
// transitions it to escalated. It returns the tally regardless of
// whether a transition happened.
func (ch *Checker) Evaluate(ctx context.Context, executionID string) (Counts, error) {
	severities, err := ch.findings.CountsBySeverity(ctx, executionID)
	if err != nil {
		return Counts{}, err
	}

	artifacts, err := ch.artifacts.List(ctx, executionID, "")
	if err != nil {
		return Counts{}, err
	}
	blockers := 0
	for _, a := range artifacts {
		if a.ArtifactType == blockerArtifactType {
			blockers++
		}
	}

	counts := Counts{
		Critical: severities[store.SeverityCritical],
		High:     severities[store.SeverityHigh],
		Blockers: blockers,
	}

	if !counts.Exceeded(ch.thresh) {
		return counts, nil
	}

	exec, err := ch.machine.TransitionExecution(ctx, executionID, store.ExecutionEscalated)
	if err != nil {
		var stateErr *orchestraerrors.StateError
		if errors.As(err, &stateErr) && stateErr.Kind == "InvalidTransition" {
			ch.logger.Debug("escalation thresholds crossed but execution is not escalatable",
				"execution_id", executionID, "current_state", stateErr.CurrentState)
			return counts, nil
		}
		return counts, err
	}

	ch.logger.Warn("execution escalated",
		"execution_id", executionID,
		"critical", counts.Critical,
		"high", counts.High,
		"blockers", counts.Blockers,
		"state", exec.State,
	)
	return counts, nil
}
