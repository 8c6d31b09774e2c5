// Package pipeline runs the creative stages over a scene under its lease,
// gating every stage on the project budget and persisting each stage's
// work as soon as it is paid for.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"scenecraft/internal/agent"
	"scenecraft/internal/domain"
	"scenecraft/internal/events"
	"scenecraft/internal/idgen"
	"scenecraft/internal/ledger"
	"scenecraft/internal/notify"
	"scenecraft/internal/repo"
)

const (
	DefaultLeaseTTL = 5 * time.Minute
	// cleanupTimeout bounds writes that must happen after the run context is gone.
	cleanupTimeout = 10 * time.Second
)

type Result struct {
	RunID         string            `json:"run_id"`
	SceneID       string            `json:"scene_id"`
	ProjectID     string            `json:"project_id,omitempty"`
	Outcome       Outcome           `json:"outcome"`
	Proposals     []domain.Proposal `json:"proposals"`
	FailedAtStage domain.Role       `json:"failed_at_stage,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	LockedBy      string            `json:"locked_by,omitempty"`
	LockedUntil   *time.Time        `json:"locked_until,omitempty"`
	SpendUSD      float64           `json:"spend_usd"`
	CapUSD        float64           `json:"cap_usd"`
}

func (r Result) Succeeded() bool { return r.Outcome == OutcomeSucceeded }

type Orchestrator struct {
	Repo     repo.Repo
	Events   events.Writer
	Stages   []agent.Stage
	Notifier notify.Notifier
	LeaseTTL time.Duration
	// RunTimeout caps a run; it never exceeds LeaseTTL so a run cannot
	// outlive its lease. Zero means LeaseTTL.
	RunTimeout   time.Duration
	HolderPrefix string
	Now          func() time.Time
	Logger       *slog.Logger
	Tracer       trace.Tracer
	NewRunID     func() (string, error)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return noop.NewTracerProvider().Tracer("")
}

func (o *Orchestrator) notifier() notify.Notifier {
	if o.Notifier != nil {
		return o.Notifier
	}
	return notify.NewChannel(notify.Noop{}, o.logger())
}

func (o *Orchestrator) leaseTTL() time.Duration {
	if o.LeaseTTL > 0 {
		return o.LeaseTTL
	}
	return DefaultLeaseTTL
}

func (o *Orchestrator) runTimeout() time.Duration {
	ttl := o.leaseTTL()
	if o.RunTimeout > 0 && o.RunTimeout < ttl {
		return o.RunTimeout
	}
	return ttl
}

func (o *Orchestrator) holder(runID string) string {
	prefix := o.HolderPrefix
	if prefix == "" {
		prefix = "pipeline"
	}
	return prefix + ":" + runID
}

// Run executes every stage in order over sceneID. The returned Result is
// always populated; the error is nil only when the run succeeded.
func (o *Orchestrator) Run(ctx context.Context, sceneID string) (Result, error) {
	newRunID := o.NewRunID
	if newRunID == nil {
		newRunID = idgen.RunID
	}
	runID, err := newRunID()
	if err != nil {
		return Result{SceneID: sceneID, Outcome: OutcomeFailed, ErrorMessage: err.Error()}, err
	}
	res := Result{RunID: runID, SceneID: sceneID, Proposals: []domain.Proposal{}}
	log := o.logger().With("run_id", runID, "scene_id", sceneID)

	ctx, span := o.tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("scene.id", sceneID),
		attribute.String("pipeline.run_id", runID),
	))
	defer span.End()

	res, err = o.run(ctx, res, log)
	span.SetAttributes(attribute.String("pipeline.outcome", string(res.Outcome)), attribute.Int("pipeline.proposals", len(res.Proposals)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Info("pipeline run stopped", "outcome", res.Outcome, "stage", res.FailedAtStage, "err", err)
	} else {
		log.Info("pipeline run succeeded", "proposals", len(res.Proposals), "spend_usd", res.SpendUSD)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, res Result, log *slog.Logger) (Result, error) {
	scene, err := o.Repo.GetScene(ctx, res.SceneID)
	if errors.Is(err, repo.ErrNotFound) {
		return notEligible(res, fmt.Errorf("%w: scene %s not found", ErrNotEligible, res.SceneID))
	}
	if err != nil {
		return failed(res, "", fmt.Errorf("load scene: %w", err))
	}
	res.ProjectID = scene.ProjectID
	if scene.Status != domain.StatusDraft {
		return notEligible(res, fmt.Errorf("%w: scene %s is %s", ErrNotEligible, scene.ID, scene.Status))
	}

	holder := o.holder(res.RunID)
	now := o.now()
	until := now.Add(o.leaseTTL())
	acquired, err := o.Repo.TryAcquireSceneLease(ctx, o.Repo.DB, scene.ID, holder, until, now)
	if err != nil {
		return failed(res, "", fmt.Errorf("acquire lease: %w", err))
	}
	if !acquired {
		return o.contended(ctx, res, scene.ID, now)
	}
	scene.Lease = domain.Lease{Held: true, Holder: holder, ExpiresAt: &until}

	scope := notify.Scope{ProjectID: scene.ProjectID, SceneID: scene.ID, RunID: res.RunID}
	defer o.release(ctx, scene.ID, holder, scope, log)

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout())
	defer cancel()

	o.notifier().Locked(runCtx, scope, holder, until)
	if err := o.recordStart(runCtx, scene, holder, until, res.RunID); err != nil {
		return o.abort(ctx, res, scope, OutcomeFailed, "", fmt.Errorf("record run start: %w", err))
	}

	project, err := o.reconcile(runCtx, scene.ProjectID, log)
	if err != nil {
		return o.abort(ctx, res, scope, OutcomeFailed, "", fmt.Errorf("reconcile ledger: %w", err))
	}
	res.SpendUSD, res.CapUSD = project.CurrentSpendUSD, project.BudgetCapUSD

	for _, st := range o.Stages {
		role := st.Role()
		if err := runCtx.Err(); err != nil {
			return o.abort(ctx, res, scope, OutcomeCanceled, role, fmt.Errorf("%w before %s: %v", ErrCanceled, role, err))
		}
		proposal, outcome, err := o.runStage(runCtx, st, scene, res, scope, log)
		if err != nil {
			return o.abort(ctx, res, scope, outcome, role, err)
		}
		if proposal == nil {
			continue
		}
		res.Proposals = append(res.Proposals, *proposal)
		res.SpendUSD += proposal.CostUSD
	}

	if project, err := o.Repo.GetProject(o.detached(ctx), res.ProjectID); err == nil {
		res.SpendUSD = project.CurrentSpendUSD
	}
	res.Outcome = OutcomeSucceeded
	o.appendDetached(ctx, events.PipelineRunCompleted{
		Meta:      events.NewMeta(o.now()),
		RunID:     res.RunID,
		SceneID:   res.SceneID,
		Proposals: len(res.Proposals),
		SpendUSD:  res.SpendUSD,
	}, res.ProjectID, res.SceneID, log)
	return res, nil
}

// runStage admits, runs and commits one stage. A nil proposal with a nil
// error means the stage had nothing usable to offer.
func (o *Orchestrator) runStage(ctx context.Context, st agent.Stage, scene domain.Scene, res Result, scope notify.Scope, log *slog.Logger) (*domain.Proposal, Outcome, error) {
	role := st.Role()
	ctx, span := o.tracer().Start(ctx, "pipeline.stage", trace.WithAttributes(attribute.String("pipeline.stage", string(role))))
	defer span.End()

	project, err := o.Repo.GetProject(ctx, scene.ProjectID)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("refresh ledger: %w", err)
	}
	l, err := ledger.New(project.BudgetCapUSD, project.CurrentSpendUSD)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("refresh ledger: %w", err)
	}
	estimate := st.EstimateCost()
	span.SetAttributes(attribute.Float64("pipeline.estimate_usd", estimate))
	if l.WouldExceed(estimate) {
		err := &BudgetExceededError{Stage: role, CurrentSpend: l.Spend(), Cap: l.Cap(), Amount: estimate}
		span.SetStatus(codes.Error, err.Error())
		return nil, OutcomeBudgetExceeded, err
	}

	o.notifier().StageStarted(ctx, scope, string(role))
	proposal, err := st.Run(ctx, agent.Input{RunID: res.RunID, Scene: scene, Project: project, Prior: res.Proposals})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, OutcomeCanceled, fmt.Errorf("%w during %s: %v", ErrCanceled, role, ctxErr)
		}
		return nil, OutcomeFailed, &StageFailedError{Stage: role, Err: err}
	}
	if proposal == nil {
		log.Info("stage produced no proposal", "stage", role)
		o.notifier().StageCompleted(ctx, scope, string(role))
		return nil, "", nil
	}

	// The call is paid for; commit even if the run was cancelled meanwhile.
	if err := o.commit(o.detached(ctx), *proposal); err != nil {
		span.SetStatus(codes.Error, err.Error())
		var budget *BudgetExceededError
		if errors.As(err, &budget) {
			return nil, OutcomeBudgetExceeded, err
		}
		return nil, OutcomeFailed, fmt.Errorf("persist %s proposal: %w", role, err)
	}
	span.SetAttributes(attribute.Float64("pipeline.cost_usd", proposal.CostUSD), attribute.Int("pipeline.tokens", proposal.TokensUsed))
	o.notifier().ProposalCreated(ctx, scope, *proposal)
	o.notifier().StageCompleted(ctx, scope, string(role))
	return proposal, "", nil
}

// commit re-checks the actual cost against a fresh ledger and, when it
// fits, stores the proposal and its spend together.
func (o *Orchestrator) commit(ctx context.Context, p domain.Proposal) error {
	return o.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		project, err := o.Repo.GetProjectTx(ctx, tx, p.ProjectID)
		if err != nil {
			return err
		}
		l, err := ledger.New(project.BudgetCapUSD, project.CurrentSpendUSD)
		if err != nil {
			return err
		}
		if l.WouldExceed(p.CostUSD) {
			return &BudgetExceededError{Stage: p.Role, CurrentSpend: l.Spend(), Cap: l.Cap(), Amount: p.CostUSD, PostCall: true}
		}
		if err := l.AddSpend(p.CostUSD); err != nil {
			return err
		}
		if err := o.Repo.InsertProposal(ctx, tx, p); err != nil {
			return err
		}
		total, err := o.Repo.AddProjectSpend(ctx, tx, p.ProjectID, p.CostUSD)
		if err != nil {
			return err
		}
		now := o.now()
		if _, err := o.Events.Append(ctx, tx, events.ProposalCreated{
			Meta:       events.NewMeta(now),
			ProposalID: p.ID,
			SceneID:    p.SceneID,
			RunID:      p.RunID,
			Role:       string(p.Role),
			Summary:    p.Summary,
			TokensUsed: p.TokensUsed,
			CostUSD:    p.CostUSD,
		}, p.ProjectID, p.SceneID, p.RunID); err != nil {
			return err
		}
		_, err = o.Events.Append(ctx, tx, events.ProjectSpendRecorded{
			Meta:       events.NewMeta(now),
			ProjectID:  p.ProjectID,
			ProposalID: p.ID,
			AmountUSD:  p.CostUSD,
			TotalUSD:   total,
		}, p.ProjectID, p.ProjectID, p.RunID)
		return err
	})
}

// reconcile raises the stored spend to the sum of persisted proposal costs,
// repairing drift left by a run that crashed between the two writes.
func (o *Orchestrator) reconcile(ctx context.Context, projectID string, log *slog.Logger) (domain.Project, error) {
	var project domain.Project
	err := o.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		project, err = o.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		l, err := ledger.New(project.BudgetCapUSD, project.CurrentSpendUSD)
		if err != nil {
			return err
		}
		authoritative, err := o.Repo.SumProposalCostsTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		previous := l.Spend()
		if !l.Reconcile(authoritative) {
			return nil
		}
		if _, err := o.Repo.RaiseProjectSpend(ctx, tx, projectID, l.Spend()); err != nil {
			return err
		}
		project.CurrentSpendUSD = l.Spend()
		log.Warn("ledger drift repaired", "project_id", projectID, "previous_usd", previous, "reconciled_usd", l.Spend())
		_, err = o.Events.Append(ctx, tx, events.ProjectSpendReconciled{
			Meta:          events.NewMeta(o.now()),
			ProjectID:     projectID,
			PreviousUSD:   previous,
			ReconciledUSD: l.Spend(),
		}, projectID, projectID, "pipeline")
		return err
	})
	return project, err
}

func (o *Orchestrator) recordStart(ctx context.Context, scene domain.Scene, holder string, until time.Time, runID string) error {
	stages := make([]string, 0, len(o.Stages))
	for _, st := range o.Stages {
		stages = append(stages, string(st.Role()))
	}
	return o.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		now := o.now()
		if _, err := o.Events.Append(ctx, tx, events.SceneLeaseAcquired{
			Meta: events.NewMeta(now), SceneID: scene.ID, Holder: holder, ExpiresAt: until,
		}, scene.ProjectID, scene.ID, holder); err != nil {
			return err
		}
		_, err := o.Events.Append(ctx, tx, events.PipelineRunStarted{
			Meta: events.NewMeta(now), RunID: runID, SceneID: scene.ID, Holder: holder, Stages: stages,
		}, scene.ProjectID, scene.ID, holder)
		return err
	})
}

// release clears the lease on every exit path, on a context that survives
// cancellation of the run.
func (o *Orchestrator) release(ctx context.Context, sceneID, holder string, scope notify.Scope, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := o.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		released, err := o.Repo.ReleaseSceneLease(ctx, tx, sceneID, holder)
		if err != nil {
			return err
		}
		if !released {
			log.Warn("lease already taken over; nothing to release", "holder", holder)
			return nil
		}
		_, err = o.Events.Append(ctx, tx, events.SceneLeaseReleased{
			Meta: events.NewMeta(o.now()), SceneID: sceneID, Holder: holder,
		}, scope.ProjectID, sceneID, holder)
		return err
	})
	if err != nil {
		log.Error("lease release failed; it lapses at its expiry", "holder", holder, "err", err)
	}
	o.notifier().Unlocked(ctx, scope)
}

// contended classifies a lost acquire from a fresh read: the scene may have
// left draft after the eligibility check, or another holder took the lease.
func (o *Orchestrator) contended(ctx context.Context, res Result, sceneID string, now time.Time) (Result, error) {
	current, err := o.Repo.GetScene(ctx, sceneID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return notEligible(res, fmt.Errorf("%w: scene %s not found", ErrNotEligible, sceneID))
	case err != nil:
		return failed(res, "", fmt.Errorf("reload scene: %w", err))
	case current.Status != domain.StatusDraft:
		return notEligible(res, fmt.Errorf("%w: scene %s is %s", ErrNotEligible, sceneID, current.Status))
	}
	lockErr := &LockedError{SceneID: sceneID, Holder: current.Lease.Holder}
	if current.Lease.ExpiresAt != nil {
		lockErr.Until = *current.Lease.ExpiresAt
	}
	if !current.Lease.Active(now) {
		o.logger().Warn("lease released between acquire and reload", "scene_id", sceneID)
	}
	res.Outcome = OutcomeLocked
	res.LockedBy = lockErr.Holder
	if !lockErr.Until.IsZero() {
		until := lockErr.Until
		res.LockedUntil = &until
	}
	res.ErrorMessage = lockErr.Error()
	return res, lockErr
}

func (o *Orchestrator) abort(ctx context.Context, res Result, scope notify.Scope, outcome Outcome, stage domain.Role, err error) (Result, error) {
	res.Outcome = outcome
	res.FailedAtStage = stage
	res.ErrorMessage = err.Error()
	dctx := o.detached(ctx)
	if project, perr := o.Repo.GetProject(dctx, res.ProjectID); perr == nil {
		res.SpendUSD, res.CapUSD = project.CurrentSpendUSD, project.BudgetCapUSD
	}
	o.notifier().StageFailed(dctx, scope, string(stage), res.ErrorMessage)
	o.appendDetached(ctx, events.PipelineRunAborted{
		Meta:    events.NewMeta(o.now()),
		RunID:   res.RunID,
		SceneID: res.SceneID,
		Outcome: string(outcome),
		Stage:   string(stage),
		Reason:  res.ErrorMessage,
	}, res.ProjectID, res.SceneID, o.logger())
	return res, err
}

func (o *Orchestrator) appendDetached(ctx context.Context, evt events.Event, projectID, entityID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := o.Events.Append(ctx, o.Repo.DB, evt, projectID, entityID, "pipeline"); err != nil {
		log.Error("append run event failed", "type", events.TypeTag(evt), "err", err)
	}
}

// detached returns a context that outlives cancellation of ctx. Callers use
// it only for short bookkeeping writes.
func (o *Orchestrator) detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func notEligible(res Result, err error) (Result, error) {
	res.Outcome = OutcomeNotEligible
	res.ErrorMessage = err.Error()
	return res, err
}

func failed(res Result, stage domain.Role, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	res.FailedAtStage = stage
	res.ErrorMessage = err.Error()
	return res, err
}
