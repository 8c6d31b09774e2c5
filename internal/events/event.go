package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event. Its identity doubles as the identity of the log
// entry that records it, so appending the same event twice is rejected.
type Event interface {
	EventID() string
	OccurredAt() time.Time
}

// Meta carries the identity every event embeds.
type Meta struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func NewMeta(now time.Time) Meta {
	return Meta{ID: uuid.NewString(), At: now.UTC()}
}

func (m Meta) EventID() string       { return m.ID }
func (m Meta) OccurredAt() time.Time { return m.At }

type SceneCreated struct {
	Meta
	SceneID   string `json:"scene_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Version   int    `json:"version"`
	CreatedBy string `json:"created_by"`
}

type SceneUpdated struct {
	Meta
	SceneID    string   `json:"scene_id"`
	NewVersion int      `json:"new_version"`
	Fields     []string `json:"fields"`
	UpdatedBy  string   `json:"updated_by"`
}

type SceneSubmittedForReview struct {
	Meta
	SceneID     string `json:"scene_id"`
	Version     int    `json:"version"`
	SubmittedBy string `json:"submitted_by"`
}

type SceneApproved struct {
	Meta
	SceneID    string `json:"scene_id"`
	Version    int    `json:"version"`
	ApprovedBy string `json:"approved_by"`
}

type SceneRevisionRequested struct {
	Meta
	SceneID     string `json:"scene_id"`
	Feedback    string `json:"feedback"`
	RequestedBy string `json:"requested_by"`
}

type SceneLeaseAcquired struct {
	Meta
	SceneID   string    `json:"scene_id"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SceneLeaseReleased struct {
	Meta
	SceneID string `json:"scene_id"`
	Holder  string `json:"holder"`
}

type ProjectCreated struct {
	Meta
	ProjectID    string  `json:"project_id"`
	Title        string  `json:"title"`
	BudgetCapUSD float64 `json:"budget_cap_usd"`
}

type ProjectBudgetCapSet struct {
	Meta
	ProjectID      string  `json:"project_id"`
	PreviousCapUSD float64 `json:"previous_cap_usd"`
	CapUSD         float64 `json:"cap_usd"`
}

type ProjectSpendRecorded struct {
	Meta
	ProjectID  string  `json:"project_id"`
	ProposalID string  `json:"proposal_id"`
	AmountUSD  float64 `json:"amount_usd"`
	TotalUSD   float64 `json:"total_usd"`
}

type ProjectSpendReconciled struct {
	Meta
	ProjectID     string  `json:"project_id"`
	PreviousUSD   float64 `json:"previous_usd"`
	ReconciledUSD float64 `json:"reconciled_usd"`
}

type ProposalCreated struct {
	Meta
	ProposalID string  `json:"proposal_id"`
	SceneID    string  `json:"scene_id"`
	RunID      string  `json:"run_id"`
	Role       string  `json:"role"`
	Summary    string  `json:"summary"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

type ProposalApplied struct {
	Meta
	ProposalID string `json:"proposal_id"`
	SceneID    string `json:"scene_id"`
	AppliedBy  string `json:"applied_by"`
}

type ProposalDismissed struct {
	Meta
	ProposalID  string `json:"proposal_id"`
	SceneID     string `json:"scene_id"`
	DismissedBy string `json:"dismissed_by"`
	Reason      string `json:"reason,omitempty"`
}

type PipelineRunStarted struct {
	Meta
	RunID   string   `json:"run_id"`
	SceneID string   `json:"scene_id"`
	Holder  string   `json:"holder"`
	Stages  []string `json:"stages"`
}

type PipelineRunCompleted struct {
	Meta
	RunID     string  `json:"run_id"`
	SceneID   string  `json:"scene_id"`
	Proposals int     `json:"proposals"`
	SpendUSD  float64 `json:"spend_usd"`
}

type PipelineRunAborted struct {
	Meta
	RunID   string `json:"run_id"`
	SceneID string `json:"scene_id"`
	Outcome string `json:"outcome"`
	Stage   string `json:"stage,omitempty"`
	Reason  string `json:"reason"`
}
