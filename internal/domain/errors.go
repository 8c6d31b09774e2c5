package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotEditable       = errors.New("scene not editable")
	ErrLocked            = errors.New("scene locked")
	ErrNoChanges         = errors.New("no fields to update")
)

// TransitionError reports a status change outside the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// LockedError reports a live lease held by someone else.
type LockedError struct {
	Holder string
	Until  time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("scene locked by %s until %s", e.Holder, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }
