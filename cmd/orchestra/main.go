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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orchestra-run/orchestra/internal/artifact"
	"github.com/orchestra-run/orchestra/internal/config"
	"github.com/orchestra-run/orchestra/internal/escalation"
	"github.com/orchestra-run/orchestra/internal/execlog"
	"github.com/orchestra-run/orchestra/internal/finding"
	"github.com/orchestra-run/orchestra/internal/lifecycle"
	orchestralog "github.com/orchestra-run/orchestra/internal/log"
	"github.com/orchestra-run/orchestra/internal/mcpserver"
	"github.com/orchestra-run/orchestra/internal/orchestra"
	"github.com/orchestra-run/orchestra/internal/project"
	"github.com/orchestra-run/orchestra/internal/registry"
	"github.com/orchestra-run/orchestra/internal/sequencer"
	"github.com/orchestra-run/orchestra/internal/statemachine"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/token"
	"github.com/orchestra-run/orchestra/internal/tracing"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "orchestra",
		Short: "orchestra issues agent personas step by step and tracks workflow execution",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to built-in config plus environment overrides)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(newServeCommand(&configPath, &logLevel))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("orchestra %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func newServeCommand(configPath, logLevel *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, *logLevel, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on (empty disables)")
	return cmd
}

func runServe(ctx context.Context, configPath, logLevelOverride, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevelOverride != "" {
		cfg.Log.Level = logLevelOverride
	}

	logger := orchestralog.New(&orchestralog.Config{
		Level:  cfg.Log.Level,
		Format: orchestralog.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	tracer, err := tracing.Setup(tracing.Config{
		ServiceName:    "orchestra",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	st, err := store.Open(store.Config{
		Path:         cfg.Store.Path,
		CacheSizeKiB: cfg.Store.CacheSizeMB * 1024,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg, err := registry.Open(registry.Config{
		Path:   cfg.Registry.Path,
		Logger: logger,
		Watch:  cfg.Registry.Watch,
	})
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer reg.Close()

	tokenCfg := token.Config{Secret: []byte(cfg.Token.Secret)}
	machine := statemachine.New(st)
	seq := sequencer.New(st, machine, reg, reg, tokenCfg)
	lc := lifecycle.New(st, machine, reg, tokenCfg, logger)
	artifacts := artifact.New(st)
	findings := finding.New(st)
	projects := project.New(st)
	esc := escalation.New(findings, artifacts, machine, cfg.Escalation, logger)
	orc := orchestra.New(st, seq, lc, execlog.New(st), artifacts, findings, projects, esc, reg, reg, logger)

	sweeper := lifecycle.NewSweeper(lc, cfg.Lifecycle.SweepInterval)

	srv, err := mcpserver.NewServer(mcpserver.ServerConfig{
		Name:      "orchestra",
		Version:   version,
		LogLevel:  cfg.Log.Level,
		Orchestra: orc,
		Tracer:    tracer,
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sweeper.Start(runCtx)
	defer sweeper.Stop()

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", slog.Any("error", err))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", metricsAddr))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(runCtx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error("MCP server error", slog.Any("error", err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}
