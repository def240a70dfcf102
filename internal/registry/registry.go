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

// Package registry is the read-only content registry: the mapping of
// workflow name to its ordered phases, and agent name to its persona
// text. The write path that produces these YAML files lives outside
// this module; the registry only loads, validates, caches, and
// hot-reloads them.
package registry

import (
	"fmt"
	"sort"

	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Phase is one step of a Workflow's ordered phase list.
type Phase struct {
	PhaseName     string   `yaml:"phase_name" json:"phase_name"`
	AgentName     string   `yaml:"agent_name" json:"agent_name"`
	Description   string   `yaml:"description" json:"description"`
	DependsOn     []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	AllowParallel bool     `yaml:"allow_parallel,omitempty" json:"allow_parallel,omitempty"`
}

// Workflow is a named, ordered set of phases. Read-only to the core.
type Workflow struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Phases      []Phase  `yaml:"phases" json:"phases"`
	Complexity  string   `yaml:"complexity,omitempty" json:"complexity,omitempty"`
	Triggers    []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// Agent is a named persona: the text injected into the caller's context
// for a given phase's agent_name.
type Agent struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Content     string `yaml:"content" json:"content"`
}

// WorkflowLookup resolves workflow definitions by name.
type WorkflowLookup interface {
	GetWorkflow(name string) (*Workflow, error)
	ListWorkflows() []*Workflow
}

// AgentLookup resolves agent personas by name.
type AgentLookup interface {
	GetAgent(name string) (*Agent, error)
}

// StartingPhase returns the first phase in w whose DependsOn is empty,
// in declared order. Returns ok=false if none exists.
func (w *Workflow) StartingPhase() (Phase, bool) {
	for _, p := range w.Phases {
		if len(p.DependsOn) == 0 {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseByName returns the phase named name, or ok=false.
func (w *Workflow) PhaseByName(name string) (Phase, bool) {
	for _, p := range w.Phases {
		if p.PhaseName == name {
			return p, true
		}
	}
	return Phase{}, false
}

// ValidateAcyclic rejects workflows whose depends_on graph contains a
// cycle, per the Step Sequencer's load-time contract. Detection uses
// three-color DFS so it reports the first cycle found rather than just
// "some cycle exists".
func (w *Workflow) ValidateAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	byName := make(map[string]Phase, len(w.Phases))
	for _, p := range w.Phases {
		byName[p.PhaseName] = p
	}

	color := make(map[string]int, len(w.Phases))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		color[name] = gray
		p := byName[name]
		for _, dep := range p.DependsOn {
			switch color[dep] {
			case gray:
				return &orchestraerrors.ValidationError{
					Field:   "depends_on",
					Message: fmt.Sprintf("dependency cycle detected in workflow %q: %s -> %s", w.Name, name, dep),
				}
			case white:
				if err := visit(dep, append(path, dep)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	order := make([]string, 0, len(w.Phases))
	for _, p := range w.Phases {
		order = append(order, p.PhaseName)
	}
	sort.Strings(order)

	for _, name := range order {
		if color[name] == white {
			if err := visit(name, []string{name}); err != nil {
				return err
			}
		}
	}
	return nil
}
