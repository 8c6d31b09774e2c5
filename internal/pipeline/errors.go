package pipeline

import (
	"errors"
	"fmt"
	"time"

	"scenecraft/internal/domain"
)

type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeNotEligible    Outcome = "not_eligible"
	OutcomeLocked         Outcome = "locked"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	OutcomeFailed         Outcome = "failed"
	OutcomeCanceled       Outcome = "canceled"
)

var (
	ErrNotEligible = errors.New("scene not eligible for pipeline")
	ErrCanceled    = errors.New("pipeline run canceled")
)

// LockedError means another holder owns a live lease on the scene.
type LockedError struct {
	SceneID string
	Holder  string
	Until   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("scene %s locked by %s until %s", e.SceneID, e.Holder, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == domain.ErrLocked }

// BudgetExceededError is an admission failure. PostCall is set when the
// actual cost of a produced proposal, not the estimate, broke the cap.
type BudgetExceededError struct {
	Stage        domain.Role
	CurrentSpend float64
	Cap          float64
	Amount       float64
	PostCall     bool
}

func (e *BudgetExceededError) Error() string {
	kind := "estimated"
	if e.PostCall {
		kind = "actual"
	}
	return fmt.Sprintf("budget exceeded at %s: spend $%.4f + %s $%.4f > cap $%.4f", e.Stage, e.CurrentSpend, kind, e.Amount, e.Cap)
}

// StageFailedError wraps an error that escaped a stage.
type StageFailedError struct {
	Stage domain.Role
	Err   error
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailedError) Unwrap() error { return e.Err }
