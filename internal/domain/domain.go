package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusReview   Status = "review"
	StatusApproved Status = "approved"
)

type Project struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Logline         string  `json:"logline,omitempty"`
	Bible           string  `json:"bible,omitempty"`
	BudgetCapUSD    float64 `json:"budget_cap_usd"`
	CurrentSpendUSD float64 `json:"current_spend_usd"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// Lease is the time-boxed exclusive claim on a scene. The fields may stay
// populated after ExpiresAt has passed; use Active to decide lock state.
type Lease struct {
	Held      bool       `json:"held"`
	Holder    string     `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (l Lease) Active(now time.Time) bool {
	return l.Held && l.ExpiresAt != nil && l.ExpiresAt.After(now)
}

type Scene struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Heading         string     `json:"heading,omitempty"`
	Synopsis        string     `json:"synopsis,omitempty"`
	Script          string     `json:"script,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Status          Status     `json:"status" enum:"draft,review,approved"`
	Version         int        `json:"version"`
	Lease           Lease      `json:"lease"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
}

// SceneFields carries a partial update; nil fields are left untouched.
type SceneFields struct {
	Title           *string `json:"title,omitempty"`
	Heading         *string `json:"heading,omitempty"`
	Synopsis        *string `json:"synopsis,omitempty"`
	Script          *string `json:"script,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

func (f SceneFields) Empty() bool {
	return f.Title == nil && f.Heading == nil && f.Synopsis == nil && f.Script == nil && f.DurationSeconds == nil
}

// Role tags the creative stage that produced a proposal.
type Role string

const (
	RoleWriter          Role = "writer"
	RoleDirector        Role = "director"
	RoleCinematographer Role = "cinematographer"
	RoleEditor          Role = "editor"
	RoleProducer        Role = "producer"
	RoleShowrunner      Role = "showrunner"
)

// Roles returns the fixed pipeline order.
func Roles() []Role {
	return []Role{RoleWriter, RoleDirector, RoleCinematographer, RoleEditor, RoleProducer, RoleShowrunner}
}

func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApplied   ProposalStatus = "applied"
	ProposalDismissed ProposalStatus = "dismissed"
)

type Proposal struct {
	ID                   string          `json:"id"`
	SceneID              string          `json:"scene_id"`
	ProjectID            string          `json:"project_id"`
	RunID                string          `json:"run_id"`
	Role                 Role            `json:"role"`
	Summary              string          `json:"summary"`
	Rationale            string          `json:"rationale,omitempty"`
	RuntimeImpactSeconds int             `json:"runtime_impact_seconds"`
	Diff                 json.RawMessage `json:"diff,omitempty"`
	Status               ProposalStatus  `json:"status" enum:"pending,applied,dismissed"`
	TokensUsed           int             `json:"tokens_used"`
	CostUSD              float64         `json:"cost_usd"`
	Model                string          `json:"model,omitempty"`
	CreatedAt            string          `json:"created_at" format:"date-time"`
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobLeased    JobStatus = "leased"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type Job struct {
	ID             string     `json:"id"`
	SceneID        string     `json:"scene_id"`
	Status         JobStatus  `json:"status" enum:"queued,leased,succeeded,failed"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
