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

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRegistry = `
workflows:
  - name: security-review
    description: three-phase security review
    phases:
      - phase_name: design
        agent_name: architect
      - phase_name: implement
        agent_name: implementer
        depends_on: [design]
      - phase_name: review
        agent_name: reviewer
        depends_on: [implement]
agents:
  - name: architect
    description: designs the approach
    content: "You are an architect..."
  - name: implementer
    description: implements the design
    content: "You are an implementer..."
  - name: reviewer
    description: reviews the implementation
    content: "You are a reviewer..."
`

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write registry fixture: %v", err)
	}
	return path
}

func TestRegistry_GetWorkflowAndAgent(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)

	r, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	defer r.Close()

	wf, err := r.GetWorkflow("security-review")
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if len(wf.Phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(wf.Phases))
	}

	agent, err := r.GetAgent("architect")
	if err != nil {
		t.Fatalf("failed to get agent: %v", err)
	}
	if agent.Content == "" {
		t.Error("expected agent content to be populated")
	}

	if _, err := r.GetWorkflow("missing"); err == nil {
		t.Error("expected error for missing workflow")
	}
}

func TestRegistry_RejectsCyclicDependsOn(t *testing.T) {
	const cyclic = `
workflows:
  - name: cyclic
    phases:
      - phase_name: a
        agent_name: architect
        depends_on: [b]
      - phase_name: b
        agent_name: architect
        depends_on: [a]
agents:
  - name: architect
    content: "..."
`
	path := writeRegistry(t, cyclic)

	_, err := Open(Config{Path: path})
	if err == nil {
		t.Fatal("expected cyclic workflow to be rejected at load time")
	}
}

func TestRegistry_HotReload(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)

	r, err := Open(Config{Path: path, Watch: true})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	defer r.Close()

	updated := sampleRegistry + `
  - name: solo
    description: single-phase workflow
    phases:
      - phase_name: only
        agent_name: architect
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite registry fixture: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.GetWorkflow("solo"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected registry to hot-reload the new workflow within 2s")
}

func TestWorkflow_StartingPhase(t *testing.T) {
	wf := &Workflow{
		Name: "wf",
		Phases: []Phase{
			{PhaseName: "b", AgentName: "x", DependsOn: []string{"a"}},
			{PhaseName: "a", AgentName: "x"},
		},
	}

	p, ok := wf.StartingPhase()
	if !ok {
		t.Fatal("expected a starting phase")
	}
	if p.PhaseName != "a" {
		t.Errorf("expected starting phase a, got %s", p.PhaseName)
	}
}

func TestWorkflow_StartingPhase_NoneQualifies(t *testing.T) {
	wf := &Workflow{
		Name: "wf",
		Phases: []Phase{
			{PhaseName: "a", AgentName: "x", DependsOn: []string{"b"}},
		},
	}

	if _, ok := wf.StartingPhase(); ok {
		t.Fatal("expected no starting phase when all phases declare dependencies")
	}
}
