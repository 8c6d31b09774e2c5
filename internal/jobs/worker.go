package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"scenecraft/internal/config"
	"scenecraft/internal/domain"
	"scenecraft/internal/pipeline"
	"scenecraft/internal/retry"
)

// Runner runs the pipeline for one scene.
type Runner interface {
	Run(ctx context.Context, sceneID string) (pipeline.Result, error)
}

const defaultOwner = "scenecraft-worker"

type Config struct {
	Owner        string
	PollInterval time.Duration
	LeaseTTL     time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	BatchSize    int
}

// ConfigFrom maps the jobs section of scenecraft.yml.
func ConfigFrom(cfg config.JobsConfig, owner string) Config {
	return Config{
		Owner:        owner,
		PollInterval: cfg.PollInterval,
		LeaseTTL:     cfg.LeaseTTL,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
	}
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Owner) == "" {
		c.Owner = defaultOwner
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 6 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	return c
}

type Worker struct {
	Queue  *Queue
	Runner Runner
	Config Config
	Logger *slog.Logger
}

func NewWorker(q *Queue, r Runner, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{Queue: q, Runner: r, Config: cfg.normalized(), Logger: logger}
}

// Run drains due jobs every poll interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.Config.normalized()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	w.Logger.Info("job worker started", "owner", cfg.Owner, "poll_interval", cfg.PollInterval)
	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error("process due jobs", "err", err)
		}
		select {
		case <-ctx.Done():
			w.Logger.Info("job worker stopped", "owner", cfg.Owner)
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue leases one batch of due jobs and runs them in order. It
// returns how many jobs it handled.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	cfg := w.Config.normalized()
	leased, err := w.Queue.Claim(ctx, cfg.Owner, cfg.BatchSize, cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	for _, job := range leased {
		if err := w.handle(ctx, cfg, job); err != nil {
			return 0, err
		}
	}
	return len(leased), nil
}

func (w *Worker) handle(ctx context.Context, cfg Config, job domain.Job) error {
	log := w.Logger.With("job_id", job.ID, "scene_id", job.SceneID, "attempt", job.Attempts)
	res, runErr := w.Runner.Run(ctx, job.SceneID)
	outcome := string(res.Outcome)

	// Settle even when ctx is done so the job is not stuck until its lease lapses.
	sctx := context.WithoutCancel(ctx)
	if runErr == nil {
		log.Info("job succeeded", "run_id", res.RunID, "proposals", len(res.Proposals))
		return w.Queue.Complete(sctx, job.ID, cfg.Owner, outcome)
	}
	if !retryable(runErr) || job.Attempts >= cfg.MaxAttempts {
		log.Warn("job failed", "outcome", outcome, "err", runErr)
		return w.Queue.Fail(sctx, job.ID, cfg.Owner, runErr.Error(), outcome)
	}
	at := w.Queue.now().Add(cfg.RetryDelay)
	log.Info("job requeued", "outcome", outcome, "next_attempt_at", at, "err", runErr)
	return w.Queue.Retry(sctx, job.ID, cfg.Owner, runErr.Error(), outcome, at)
}

// retryable reports whether a later attempt could succeed. Budget and
// eligibility failures need a person to act first.
func retryable(err error) bool {
	var budget *pipeline.BudgetExceededError
	switch {
	case errors.As(err, &budget), errors.Is(err, pipeline.ErrNotEligible):
		return false
	case errors.Is(err, domain.ErrLocked), errors.Is(err, pipeline.ErrCanceled):
		return true
	}
	var stage *pipeline.StageFailedError
	if errors.As(err, &stage) {
		return true
	}
	return retry.IsTransient(err)
}
