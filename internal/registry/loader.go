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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// file is the on-disk shape of one registry YAML document: a list of
// workflows and a list of agents, loaded and cached together so a
// workflow's phase agent references can be validated against the same
// snapshot.
type file struct {
	Workflows []Workflow `yaml:"workflows"`
	Agents    []Agent    `yaml:"agents"`
}

// Registry loads workflows/agents from a YAML file and serves them from
// an in-memory snapshot, refreshed on write via an optional fsnotify
// watch. It implements WorkflowLookup and AgentLookup.
type Registry struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*Workflow
	agents    map[string]*Agent

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Config configures a Registry.
type Config struct {
	// Path is the registry YAML file.
	Path string

	// Logger receives reload/error events. Defaults to slog.Default().
	Logger *slog.Logger

	// Watch enables fsnotify hot-reload on Path. The registry's write
	// path is out of scope for this module; this only reacts to it.
	Watch bool
}

// Open loads the registry file at cfg.Path and, if cfg.Watch is set,
// starts watching it for changes.
func Open(cfg Config) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:   cfg.Path,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := r.reload(); err != nil {
		return nil, err
	}

	if cfg.Watch {
		if err := r.startWatch(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return &orchestraerrors.ConfigError{Key: "registry.path", Reason: "reading registry file", Cause: err}
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return &orchestraerrors.ConfigError{Key: "registry.path", Reason: "parsing registry file", Cause: err}
	}

	workflows := make(map[string]*Workflow, len(f.Workflows))
	for i := range f.Workflows {
		w := f.Workflows[i]
		if err := w.ValidateAcyclic(); err != nil {
			return err
		}
		workflows[w.Name] = &w
	}

	agents := make(map[string]*Agent, len(f.Agents))
	for i := range f.Agents {
		a := f.Agents[i]
		agents[a.Name] = &a
	}

	r.mu.Lock()
	r.workflows = workflows
	r.agents = agents
	r.mu.Unlock()

	return nil
}

func (r *Registry) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating registry file watcher: %w", err)
	}

	absPath, err := filepath.Abs(r.path)
	if err != nil {
		w.Close()
		return fmt.Errorf("resolving registry path: %w", err)
	}

	// Watch the containing directory rather than the file itself: editors
	// commonly replace a file via rename-into-place, which drops the
	// original inode (and its watch) from under fsnotify.
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		w.Close()
		return fmt.Errorf("watching registry directory: %w", err)
	}

	r.watcher = w
	go r.watchLoop(absPath)
	return nil
}

func (r *Registry) watchLoop(absPath string) {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Name != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("registry reload failed", "path", absPath, "error", err)
				continue
			}
			r.logger.Info("registry reloaded", "path", absPath)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("registry watcher error", "error", err)

		case <-r.done:
			return
		}
	}
}

// Close stops the file watcher, if any.
func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// GetWorkflow implements WorkflowLookup.
func (r *Registry) GetWorkflow(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[name]
	if !ok {
		return nil, &orchestraerrors.NotFoundError{Resource: "workflow", ID: name}
	}
	return w, nil
}

// ListWorkflows implements WorkflowLookup.
func (r *Registry) ListWorkflows() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, w)
	}
	return out
}

// GetAgent implements AgentLookup.
func (r *Registry) GetAgent(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, &orchestraerrors.NotFoundError{Resource: "agent", ID: name}
	}
	return a, nil
}
