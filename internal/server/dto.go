package server

import (
	"encoding/json"

	"scenecraft/internal/domain"
	"scenecraft/internal/events"
	"scenecraft/internal/ledger"
)

// Request payloads

type CreateProjectRequest struct {
	ID           string  `json:"id,omitempty"`
	Title        string  `json:"title" minLength:"1"`
	Logline      string  `json:"logline,omitempty"`
	Bible        string  `json:"bible,omitempty"`
	BudgetCapUSD float64 `json:"budget_cap_usd,omitempty" minimum:"0"`
}

type SetBudgetRequest struct {
	CapUSD float64 `json:"cap_usd" minimum:"0" doc:"Zero lifts the cap"`
}

type CreateSceneRequest struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title" minLength:"1"`
	Heading         string `json:"heading,omitempty"`
	Synopsis        string `json:"synopsis,omitempty"`
	Script          string `json:"script,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty" minimum:"0"`
}

type UpdateSceneRequest struct {
	Title           *string `json:"title,omitempty"`
	Heading         *string `json:"heading,omitempty"`
	Synopsis        *string `json:"synopsis,omitempty"`
	Script          *string `json:"script,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

func (r UpdateSceneRequest) fields() domain.SceneFields {
	return domain.SceneFields(r)
}

type RevisionRequest struct {
	Feedback string `json:"feedback" minLength:"1"`
}

type DismissRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type BudgetResponse struct {
	ProjectID    string   `json:"project_id"`
	CapUSD       float64  `json:"cap_usd"`
	SpendUSD     float64  `json:"spend_usd"`
	Unlimited    bool     `json:"unlimited"`
	RemainingUSD *float64 `json:"remaining_usd,omitempty"`
}

type EventResponse struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	TS        string          `json:"ts" format:"date-time"`
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func budgetResponse(p domain.Project) (BudgetResponse, error) {
	l, err := ledger.New(p.BudgetCapUSD, p.CurrentSpendUSD)
	if err != nil {
		return BudgetResponse{}, err
	}
	res := BudgetResponse{ProjectID: p.ID, CapUSD: l.Cap(), SpendUSD: l.Spend(), Unlimited: l.Unlimited()}
	if !l.Unlimited() {
		remaining := l.Remaining()
		res.RemainingUSD = &remaining
	}
	return res, nil
}

func eventResponse(e events.Entry) EventResponse {
	payload := json.RawMessage(e.Payload())
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return EventResponse{
		Seq:       e.Seq(),
		ID:        e.ID(),
		TS:        e.Timestamp().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Type:      e.Type(),
		ProjectID: e.ProjectID(),
		EntityID:  e.EntityID(),
		ActorID:   e.Actor(),
		Payload:   payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
