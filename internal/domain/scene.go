package domain

import (
	"fmt"
	"time"

	"scenecraft/internal/events"
)

// CanTransition reports whether from -> to is in the status table.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusReview
	case StatusReview:
		return to == StatusApproved || to == StatusDraft
	default:
		return false
	}
}

func (s *Scene) transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return &TransitionError{From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

// lockedFor returns a LockedError when a live lease belongs to someone other than actor.
func (s *Scene) lockedFor(actor string, now time.Time) error {
	if s.Lease.Active(now) && s.Lease.Holder != actor {
		return &LockedError{Holder: s.Lease.Holder, Until: *s.Lease.ExpiresAt}
	}
	return nil
}

// SubmitForReview moves a draft into review. A scene under a live pipeline
// lease cannot leave Draft.
func (s *Scene) SubmitForReview(actor string, now time.Time) (events.SceneSubmittedForReview, error) {
	if s.Status == StatusDraft {
		if err := s.lockedFor(actor, now); err != nil {
			return events.SceneSubmittedForReview{}, err
		}
	}
	if err := s.transition(StatusReview); err != nil {
		return events.SceneSubmittedForReview{}, err
	}
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
	return events.SceneSubmittedForReview{
		Meta:        events.NewMeta(now),
		SceneID:     s.ID,
		Version:     s.Version,
		SubmittedBy: actor,
	}, nil
}

func (s *Scene) Approve(approver string, now time.Time) (events.SceneApproved, error) {
	if err := s.transition(StatusApproved); err != nil {
		return events.SceneApproved{}, err
	}
	at := now.UTC()
	s.ApprovedBy = approver
	s.ApprovedAt = &at
	s.UpdatedAt = at.Format(time.RFC3339)
	return events.SceneApproved{
		Meta:       events.NewMeta(now),
		SceneID:    s.ID,
		Version:    s.Version,
		ApprovedBy: approver,
	}, nil
}

// RequestRevision sends a scene under review back to Draft.
func (s *Scene) RequestRevision(feedback, requestedBy string, now time.Time) (events.SceneRevisionRequested, error) {
	if err := s.transition(StatusDraft); err != nil {
		return events.SceneRevisionRequested{}, err
	}
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
	return events.SceneRevisionRequested{
		Meta:        events.NewMeta(now),
		SceneID:     s.ID,
		Feedback:    feedback,
		RequestedBy: requestedBy,
	}, nil
}

// Update applies a partial content change and bumps Version. Only drafts
// not leased by another party are editable.
func (s *Scene) Update(fields SceneFields, actor string, now time.Time) (events.SceneUpdated, error) {
	if s.Status != StatusDraft {
		return events.SceneUpdated{}, fmt.Errorf("%w: status is %s", ErrNotEditable, s.Status)
	}
	if err := s.lockedFor(actor, now); err != nil {
		return events.SceneUpdated{}, err
	}
	if fields.Empty() {
		return events.SceneUpdated{}, ErrNoChanges
	}
	if fields.DurationSeconds != nil && *fields.DurationSeconds < 0 {
		return events.SceneUpdated{}, fmt.Errorf("duration_seconds must not be negative")
	}
	var changed []string
	if fields.Title != nil {
		s.Title = *fields.Title
		changed = append(changed, "title")
	}
	if fields.Heading != nil {
		s.Heading = *fields.Heading
		changed = append(changed, "heading")
	}
	if fields.Synopsis != nil {
		s.Synopsis = *fields.Synopsis
		changed = append(changed, "synopsis")
	}
	if fields.Script != nil {
		s.Script = *fields.Script
		changed = append(changed, "script")
	}
	if fields.DurationSeconds != nil {
		s.DurationSeconds = *fields.DurationSeconds
		changed = append(changed, "duration_seconds")
	}
	s.Version++
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
	return events.SceneUpdated{
		Meta:       events.NewMeta(now),
		SceneID:    s.ID,
		NewVersion: s.Version,
		Fields:     changed,
		UpdatedBy:  actor,
	}, nil
}

// TryAcquireLease takes the lease when it is free or lapsed. It leaves the
// scene untouched and returns false while another lease is live.
func (s *Scene) TryAcquireLease(holder string, ttl time.Duration, now time.Time) bool {
	if s.Lease.Active(now) {
		return false
	}
	exp := now.Add(ttl).UTC()
	s.Lease = Lease{Held: true, Holder: holder, ExpiresAt: &exp}
	return true
}

// ReleaseLease clears the lease unconditionally.
func (s *Scene) ReleaseLease() {
	s.Lease = Lease{}
}

// IsCurrentlyLeased is true only while the lease has not lapsed.
func (s *Scene) IsCurrentlyLeased(now time.Time) bool {
	return s.Lease.Active(now)
}
