// Package app wires a workspace's database and scenecraft.yml into the
// services the CLI and HTTP server share.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scenecraft/internal/agent"
	"scenecraft/internal/backend"
	"scenecraft/internal/config"
	"scenecraft/internal/db"
	"scenecraft/internal/engine"
	"scenecraft/internal/events"
	"scenecraft/internal/jobs"
	"scenecraft/internal/migrate"
	"scenecraft/internal/notify"
	"scenecraft/internal/pipeline"
	"scenecraft/internal/repo"
	"scenecraft/internal/retry"
	"scenecraft/internal/telemetry"
)

type Options struct {
	Workspace string
	// Config overrides the workspace's scenecraft.yml when set.
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

type Services struct {
	DB           *sql.DB
	Config       *config.Config
	Repo         repo.Repo
	Engine       engine.Engine
	Orchestrator *pipeline.Orchestrator
	Queue        *jobs.Queue
	Sink         notify.Sink
	Logger       *slog.Logger
}

// Open prepares the workspace, migrates its database and builds services.
// A workspace without scenecraft.yml runs on the built-in defaults.
func Open(ctx context.Context, opts Options) (*Services, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = config.Default()
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	svc, err := Build(conn, cfg, opts.Logger, opts.Now)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return svc, nil
}

// Build wires services over an open, migrated database.
func Build(conn *sql.DB, cfg *config.Config, logger *slog.Logger, now func() time.Time) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	reg, err := backend.FromConfig(cfg.Backends, now)
	if err != nil {
		return nil, err
	}
	caller := retry.NewCaller(RetryPolicy(cfg), logger)
	stages, err := agent.Lineup(cfg, reg, caller, agent.Options{Logger: logger, Now: now})
	if err != nil {
		return nil, err
	}
	sink, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	channel := notify.NewChannel(sink, logger)
	channel.Now = now

	eng := engine.New(conn)
	eng.Now = now
	eng.Events = events.Writer{Now: now}

	return &Services{
		DB:     conn,
		Config: cfg,
		Repo:   eng.Repo,
		Engine: eng,
		Orchestrator: &pipeline.Orchestrator{
			Repo:         eng.Repo,
			Events:       eng.Events,
			Stages:       stages,
			Notifier:     channel,
			LeaseTTL:     cfg.Pipeline.LeaseTTL,
			RunTimeout:   cfg.Pipeline.RunTimeout,
			HolderPrefix: cfg.Pipeline.HolderPrefix,
			Now:          now,
			Logger:       logger,
			Tracer:       telemetry.Tracer(),
		},
		Queue:  &jobs.Queue{DB: conn, Now: now},
		Sink:   sink,
		Logger: logger,
	}, nil
}

func RetryPolicy(cfg *config.Config) retry.Policy {
	r := cfg.Pipeline.Retry
	return retry.Policy{MaxAttempts: r.MaxAttempts, InitialDelay: r.InitialDelay, Multiplier: r.Multiplier}
}

// Worker returns a job worker that runs queued scenes through the pipeline.
func (s *Services) Worker(owner string) *jobs.Worker {
	return jobs.NewWorker(s.Queue, s.Orchestrator, jobs.ConfigFrom(s.Config.Jobs, owner), s.Logger)
}

func (s *Services) Close() error {
	var errs []error
	if s.Sink != nil {
		errs = append(errs, s.Sink.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

// ResolveProject picks the active project: the override when given,
// otherwise the workspace's only project.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetProject(ctx, override); err != nil {
			return "", fmt.Errorf("project %s: %w", override, err)
		}
		return override, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		return "", fmt.Errorf("project not specified; use --project")
	}
	return p.ID, nil
}
