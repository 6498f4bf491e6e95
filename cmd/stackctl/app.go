package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/lifecycle"
	"github.com/artpar/stackctl/internal/shell/docker"
	"github.com/artpar/stackctl/internal/shell/metrics"
	"github.com/artpar/stackctl/internal/shell/progress"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// App
// =============================================================================

// app carries process-wide state shared by every command.
type app struct {
	configPath string
	cfg        *Config
	logger     *slog.Logger
	color      progress.ColorMode
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath, cmd.Root().Flags())
	if err != nil {
		return &UsageError{Err: err}
	}
	color, err := progress.ParseColorMode(cfg.Progress.Color)
	if err != nil {
		return &UsageError{Err: err}
	}

	a.cfg = cfg
	a.color = color
	a.logger = SetupLogger(cfg)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) labels() deployment.Labels {
	return deployment.NewLabels(a.cfg.Labels.Prefix)
}

// loadProject reads the compose files selected by the configuration.
func (a *app) loadProject(ctx context.Context) (*compose.Topology, error) {
	topo, err := compose.Load(ctx, compose.LoadOptions{
		Files:       a.cfg.Project.Files,
		WorkingDir:  a.cfg.Project.WorkingDir,
		ProjectName: a.cfg.Project.Name,
		Profiles:    a.cfg.Project.Profiles,
		EnvFiles:    a.cfg.Project.EnvFiles,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("project loaded", "project", topo.Name, "services", len(topo.Services))
	return topo, nil
}

// connect opens an engine client and an orchestrator that reports to rep.
func (a *app) connect(ctx context.Context, rep lifecycle.Reporter) (*docker.DockerClient, *docker.Orchestrator, error) {
	client, err := docker.NewDockerClient(ctx, a.cfg.Docker.Host)
	if err != nil {
		return nil, nil, err
	}
	orch := docker.NewOrchestrator(client, a.logger, docker.Options{
		Labels:   a.labels(),
		Version:  Version,
		Reporter: rep,
	})
	return client, orch, nil
}

// openJournal opens the lifecycle journal, or returns nil when disabled.
func (a *app) openJournal() (*store.SQLiteStore, error) {
	if !a.cfg.Store.Enabled || a.cfg.Store.Path == "" {
		return nil, nil
	}
	if a.cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	return store.NewSQLiteStore(a.cfg.Store.Path)
}

// =============================================================================
// Invocation
// =============================================================================

// invocation is one lifecycle command against a loaded project, with its
// progress output, metrics and journal entry.
type invocation struct {
	app      *app
	command  string
	topo     *compose.Topology
	client   *docker.DockerClient
	orch     *docker.Orchestrator
	metrics  *metrics.Collector
	journal  *store.SQLiteStore
	recorder *store.Recorder
	running  func()
}

// begin loads the project and wires reporters for a lifecycle command.
func (a *app) begin(ctx context.Context, command string, services []string) (*invocation, error) {
	topo, err := a.loadProject(ctx)
	if err != nil {
		return nil, err
	}

	inv := &invocation{app: a, command: command, topo: topo}

	inv.metrics, err = metrics.New(nil)
	if err != nil {
		return nil, err
	}
	inv.running = inv.metrics.Invocation(command)

	reporters := []lifecycle.Reporter{
		progress.NewTerminal(os.Stderr, a.color, a.cfg.Progress.Verbose),
		progress.NewLogReporter(a.logger),
		inv.metrics,
	}

	journal, err := a.openJournal()
	if err != nil {
		a.logger.Warn("journal unavailable", "error", err)
	}
	if journal != nil {
		rec, err := store.StartRun(ctx, journal, a.logger, topo.Name, command, services)
		if err != nil {
			a.logger.Warn("failed to journal run", "project", topo.Name, "error", err)
			journal.Close()
		} else {
			inv.journal, inv.recorder = journal, rec
			reporters = append(reporters, rec)
		}
	}

	inv.client, inv.orch, err = a.connect(ctx, progress.Multi(reporters...))
	if err != nil {
		inv.finish(context.WithoutCancel(ctx), err)
		return nil, err
	}
	return inv, nil
}

// finish closes the journal entry, exports metrics and releases the client.
// It returns runErr unchanged.
func (inv *invocation) finish(ctx context.Context, runErr error) error {
	a := inv.app
	inv.running()

	if inv.recorder != nil {
		if err := inv.recorder.Finish(ctx, runErr); err != nil {
			a.logger.Warn("failed to finish journal run", "error", err)
		}
		if keep := a.cfg.Store.Keep; keep > 0 {
			if _, err := inv.journal.PruneRuns(ctx, inv.topo.Name, keep); err != nil {
				a.logger.Warn("failed to prune journal", "error", err)
			}
		}
	}
	if inv.journal != nil {
		inv.journal.Close()
	}

	if err := inv.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("failed to export metrics", "error", err)
	}

	if inv.client != nil {
		inv.client.Close()
	}
	return runErr
}

// lifecycleCommand runs fn inside an invocation and journals its outcome.
func (a *app) lifecycleCommand(cmd *cobra.Command, services []string, fn func(ctx context.Context, inv *invocation) error) error {
	ctx := cmd.Context()
	inv, err := a.begin(ctx, cmd.Name(), services)
	if err != nil {
		return err
	}
	runErr := fn(ctx, inv)
	if errors.Is(runErr, context.Canceled) {
		a.logger.Info("interrupted", "command", cmd.Name())
	}
	return inv.finish(context.WithoutCancel(ctx), runErr)
}

// queryCommand runs fn with a loaded project and an orchestrator that does
// not report progress.
func (a *app) queryCommand(cmd *cobra.Command, fn func(ctx context.Context, topo *compose.Topology, orch *docker.Orchestrator) error) error {
	ctx := cmd.Context()
	topo, err := a.loadProject(ctx)
	if err != nil {
		return err
	}
	client, orch, err := a.connect(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, topo, orch)
}
