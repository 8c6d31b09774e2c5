package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scenecraft/internal/domain"
	"scenecraft/internal/events"
	"scenecraft/internal/ledger"
	"scenecraft/internal/repo"
)

var ErrProposalNotPending = errors.New("proposal is not pending")

// Engine runs reviewer and author actions. Each method is one transaction
// that writes the record and appends the event the domain operation returned.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

type ProjectCreateOptions struct {
	ID           string
	Title        string
	Logline      string
	Bible        string
	BudgetCapUSD float64
	ActorID      string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if _, err := ledger.New(opts.BudgetCapUSD, 0); err != nil {
		return domain.Project{}, err
	}
	now := e.now()
	p := domain.Project{
		ID:           opts.ID,
		Title:        opts.Title,
		Logline:      opts.Logline,
		Bible:        opts.Bible,
		BudgetCapUSD: opts.BudgetCapUSD,
		CreatedAt:    now.Format(time.RFC3339),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		_, err := e.Events.Append(ctx, tx, events.ProjectCreated{
			Meta: events.NewMeta(now), ProjectID: p.ID, Title: p.Title, BudgetCapUSD: p.BudgetCapUSD,
		}, p.ID, p.ID, opts.ActorID)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetBudgetCap replaces the project's cap. Zero lifts the limit.
func (e Engine) SetBudgetCap(ctx context.Context, projectID string, capUSD float64, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		l, err := ledger.New(p.BudgetCapUSD, p.CurrentSpendUSD)
		if err != nil {
			return err
		}
		previous := l.Cap()
		if err := l.SetCap(capUSD); err != nil {
			return err
		}
		if err := e.Repo.SetBudgetCap(ctx, tx, projectID, l.Cap()); err != nil {
			return err
		}
		p.BudgetCapUSD = l.Cap()
		_, err = e.Events.Append(ctx, tx, events.ProjectBudgetCapSet{
			Meta: events.NewMeta(e.now()), ProjectID: projectID, PreviousCapUSD: previous, CapUSD: l.Cap(),
		}, projectID, projectID, actorID)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type SceneCreateOptions struct {
	ID              string
	ProjectID       string
	Title           string
	Heading         string
	Synopsis        string
	Script          string
	DurationSeconds int
	ActorID         string
}

func (e Engine) CreateScene(ctx context.Context, opts SceneCreateOptions) (domain.Scene, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Scene{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Scene{}, errors.New("project is required")
	}
	if opts.DurationSeconds < 0 {
		return domain.Scene{}, errors.New("duration_seconds must not be negative")
	}
	now := e.now()
	ts := now.Format(time.RFC3339)
	s := domain.Scene{
		ID:              opts.ID,
		ProjectID:       opts.ProjectID,
		Title:           opts.Title,
		Heading:         opts.Heading,
		Synopsis:        opts.Synopsis,
		Script:          opts.Script,
		DurationSeconds: opts.DurationSeconds,
		Status:          domain.StatusDraft,
		Version:         1,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		if err := e.Repo.InsertScene(ctx, tx, s); err != nil {
			return fmt.Errorf("insert scene: %w", err)
		}
		_, err := e.Events.Append(ctx, tx, events.SceneCreated{
			Meta: events.NewMeta(now), SceneID: s.ID, ProjectID: s.ProjectID, Title: s.Title, Version: s.Version, CreatedBy: opts.ActorID,
		}, s.ProjectID, s.ID, opts.ActorID)
		return err
	})
	if err != nil {
		return domain.Scene{}, err
	}
	return s, nil
}

func (e Engine) UpdateScene(ctx context.Context, sceneID string, fields domain.SceneFields, actorID string) (domain.Scene, error) {
	return e.mutateScene(ctx, sceneID, actorID, func(s *domain.Scene, now time.Time) (events.Event, error) {
		return s.Update(fields, actorID, now)
	})
}

func (e Engine) SubmitScene(ctx context.Context, sceneID, actorID string) (domain.Scene, error) {
	return e.mutateScene(ctx, sceneID, actorID, func(s *domain.Scene, now time.Time) (events.Event, error) {
		return s.SubmitForReview(actorID, now)
	})
}

func (e Engine) ApproveScene(ctx context.Context, sceneID, actorID string) (domain.Scene, error) {
	return e.mutateScene(ctx, sceneID, actorID, func(s *domain.Scene, now time.Time) (events.Event, error) {
		return s.Approve(actorID, now)
	})
}

func (e Engine) RequestSceneRevision(ctx context.Context, sceneID, feedback, actorID string) (domain.Scene, error) {
	return e.mutateScene(ctx, sceneID, actorID, func(s *domain.Scene, now time.Time) (events.Event, error) {
		return s.RequestRevision(feedback, actorID, now)
	})
}

// mutateScene loads the scene, applies op and stores the result together
// with the event op returned.
func (e Engine) mutateScene(ctx context.Context, sceneID, actorID string, op func(s *domain.Scene, now time.Time) (events.Event, error)) (domain.Scene, error) {
	var s domain.Scene
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		s, err = e.Repo.GetSceneTx(ctx, tx, sceneID)
		if err != nil {
			return err
		}
		evt, err := op(&s, e.now())
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateScene(ctx, tx, s); err != nil {
			return err
		}
		_, err = e.Events.Append(ctx, tx, evt, s.ProjectID, s.ID, actorID)
		return err
	})
	if err != nil {
		return domain.Scene{}, err
	}
	return s, nil
}

// ApplyProposal marks a pending proposal applied. Folding the diff into the
// scene is left to the reviewer, who edits the draft with UpdateScene.
func (e Engine) ApplyProposal(ctx context.Context, proposalID, actorID string) (domain.Proposal, error) {
	return e.settleProposal(ctx, proposalID, domain.ProposalApplied, actorID, func(p domain.Proposal) events.Event {
		return events.ProposalApplied{Meta: events.NewMeta(e.now()), ProposalID: p.ID, SceneID: p.SceneID, AppliedBy: actorID}
	})
}

func (e Engine) DismissProposal(ctx context.Context, proposalID, reason, actorID string) (domain.Proposal, error) {
	return e.settleProposal(ctx, proposalID, domain.ProposalDismissed, actorID, func(p domain.Proposal) events.Event {
		return events.ProposalDismissed{Meta: events.NewMeta(e.now()), ProposalID: p.ID, SceneID: p.SceneID, DismissedBy: actorID, Reason: reason}
	})
}

func (e Engine) settleProposal(ctx context.Context, id string, to domain.ProposalStatus, actorID string, event func(domain.Proposal) events.Event) (domain.Proposal, error) {
	var p domain.Proposal
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = e.Repo.GetProposalTx(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := e.Repo.SetProposalStatus(ctx, tx, id, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is %s", ErrProposalNotPending, id, p.Status)
		}
		p.Status = to
		_, err = e.Events.Append(ctx, tx, event(p), p.ProjectID, p.SceneID, actorID)
		return err
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}
