// Package notify pushes pipeline progress to observers. Delivery is best
// effort: failures are logged and never reach the pipeline.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scenecraft/internal/domain"
)

type Kind string

const (
	KindLocked          Kind = "locked"
	KindStageStarted    Kind = "stage_started"
	KindProposalCreated Kind = "proposal_created"
	KindStageCompleted  Kind = "stage_completed"
	KindStageFailed     Kind = "stage_failed"
	KindUnlocked        Kind = "unlocked"
)

// Scope keys a message to the scene group observers subscribe to.
type Scope struct {
	ProjectID string
	SceneID   string
	RunID     string
}

type Message struct {
	Kind      Kind             `json:"kind"`
	ProjectID string           `json:"project_id"`
	SceneID   string           `json:"scene_id"`
	RunID     string           `json:"run_id,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Proposal  *domain.Proposal `json:"proposal,omitempty"`
	LockedBy  string           `json:"locked_by,omitempty"`
	Until     *time.Time       `json:"until,omitempty"`
	At        time.Time        `json:"at"`
}

// Sink delivers messages to one transport.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Notifier is the fire-and-forget surface the pipeline calls.
type Notifier interface {
	Locked(ctx context.Context, s Scope, holder string, until time.Time)
	StageStarted(ctx context.Context, s Scope, stage string)
	ProposalCreated(ctx context.Context, s Scope, p domain.Proposal)
	StageCompleted(ctx context.Context, s Scope, stage string)
	StageFailed(ctx context.Context, s Scope, stage, reason string)
	Unlocked(ctx context.Context, s Scope)
}

// Channel adapts a Sink to Notifier.
type Channel struct {
	Sink   Sink
	Logger *slog.Logger
	Now    func() time.Time
}

func NewChannel(sink Sink, logger *slog.Logger) *Channel {
	if sink == nil {
		sink = Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{Sink: sink, Logger: logger, Now: time.Now}
}

func (c *Channel) send(ctx context.Context, s Scope, msg Message) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	msg.ProjectID, msg.SceneID, msg.RunID = s.ProjectID, s.SceneID, s.RunID
	msg.At = now().UTC()
	if err := c.Sink.Send(ctx, msg); err != nil {
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("notification not delivered", "kind", msg.Kind, "scene_id", s.SceneID, "run_id", s.RunID, "err", err)
	}
}

func (c *Channel) Locked(ctx context.Context, s Scope, holder string, until time.Time) {
	u := until.UTC()
	c.send(ctx, s, Message{Kind: KindLocked, LockedBy: holder, Until: &u})
}

func (c *Channel) StageStarted(ctx context.Context, s Scope, stage string) {
	c.send(ctx, s, Message{Kind: KindStageStarted, Stage: stage})
}

func (c *Channel) ProposalCreated(ctx context.Context, s Scope, p domain.Proposal) {
	c.send(ctx, s, Message{Kind: KindProposalCreated, Stage: string(p.Role), Proposal: &p})
}

func (c *Channel) StageCompleted(ctx context.Context, s Scope, stage string) {
	c.send(ctx, s, Message{Kind: KindStageCompleted, Stage: stage})
}

func (c *Channel) StageFailed(ctx context.Context, s Scope, stage, reason string) {
	c.send(ctx, s, Message{Kind: KindStageFailed, Stage: stage, Reason: reason})
}

func (c *Channel) Unlocked(ctx context.Context, s Scope) {
	c.send(ctx, s, Message{Kind: KindUnlocked})
}

// Noop discards every message.
type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }
func (Noop) Close() error                        { return nil }

// Multi fans a message out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
