package scenecraftsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Scenecraft HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; servers only
	// honour it when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Minute,
	}
}

type Project struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Logline         string  `json:"logline,omitempty"`
	Bible           string  `json:"bible,omitempty"`
	BudgetCapUSD    float64 `json:"budget_cap_usd"`
	CurrentSpendUSD float64 `json:"current_spend_usd"`
	CreatedAt       string  `json:"created_at"`
}

type Lease struct {
	Held      bool       `json:"held"`
	Holder    string     `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Scene struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Title           string `json:"title"`
	Heading         string `json:"heading,omitempty"`
	Synopsis        string `json:"synopsis,omitempty"`
	Script          string `json:"script,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Status          string `json:"status"`
	Version         int    `json:"version"`
	Lease           Lease  `json:"lease"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// SceneInput creates a scene; SceneEdit patches one (nil fields are kept).
type SceneInput struct {
	Title           string `json:"title"`
	Heading         string `json:"heading,omitempty"`
	Synopsis        string `json:"synopsis,omitempty"`
	Script          string `json:"script,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type SceneEdit struct {
	Title           *string `json:"title,omitempty"`
	Heading         *string `json:"heading,omitempty"`
	Synopsis        *string `json:"synopsis,omitempty"`
	Script          *string `json:"script,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

type Proposal struct {
	ID                   string          `json:"id"`
	SceneID              string          `json:"scene_id"`
	ProjectID            string          `json:"project_id"`
	RunID                string          `json:"run_id"`
	Role                 string          `json:"role"`
	Summary              string          `json:"summary"`
	Rationale            string          `json:"rationale,omitempty"`
	RuntimeImpactSeconds int             `json:"runtime_impact_seconds"`
	Diff                 json.RawMessage `json:"diff,omitempty"`
	Status               string          `json:"status"`
	TokensUsed           int             `json:"tokens_used"`
	CostUSD              float64         `json:"cost_usd"`
	Model                string          `json:"model,omitempty"`
	CreatedAt            string          `json:"created_at"`
}

// RunResult is the outcome of a synchronous pipeline run.
type RunResult struct {
	RunID         string     `json:"run_id"`
	SceneID       string     `json:"scene_id"`
	ProjectID     string     `json:"project_id"`
	Outcome       string     `json:"outcome"`
	Proposals     []Proposal `json:"proposals"`
	FailedAtStage string     `json:"failed_at_stage,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	SpendUSD      float64    `json:"spend_usd"`
	CapUSD        float64    `json:"cap_usd"`
}

type Job struct {
	ID            string    `json:"id"`
	SceneID       string    `json:"scene_id"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
}

type Budget struct {
	ProjectID    string   `json:"project_id"`
	CapUSD       float64  `json:"cap_usd"`
	SpendUSD     float64  `json:"spend_usd"`
	Unlimited    bool     `json:"unlimited"`
	RemainingUSD *float64 `json:"remaining_usd,omitempty"`
}

// Event represents a log entry.
type Event struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	EntityID  string         `json:"entity_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the server's error code when
// the body carried the standard envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsLocked reports whether err is the API's scene_locked conflict.
func IsLocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "scene_locked"
}

func (c *Client) CreateProject(ctx context.Context, title, logline string, capUSD float64) (Project, error) {
	body := map[string]any{"title": title, "logline": logline, "budget_cap_usd": capUSD}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

func (c *Client) Project(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

func (c *Client) Budget(ctx context.Context) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodGet, c.projectPath("budget"), nil, &resp)
	return resp, err
}

// SetBudget sets the project cap; zero lifts it.
func (c *Client) SetBudget(ctx context.Context, capUSD float64) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodPut, c.projectPath("budget"), map[string]any{"cap_usd": capUSD}, &resp)
	return resp, err
}

func (c *Client) CreateScene(ctx context.Context, in SceneInput) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodPost, c.projectPath("scenes"), in, &resp)
	return resp, err
}

func (c *Client) Scenes(ctx context.Context) ([]Scene, error) {
	var resp []Scene
	err := c.do(ctx, http.MethodGet, c.projectPath("scenes"), nil, &resp)
	return resp, err
}

func (c *Client) Scene(ctx context.Context, id string) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodGet, scenePath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) UpdateScene(ctx context.Context, id string, edit SceneEdit) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodPatch, scenePath(id, ""), edit, &resp)
	return resp, err
}

func (c *Client) SubmitScene(ctx context.Context, id string) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodPost, scenePath(id, "submit"), nil, &resp)
	return resp, err
}

func (c *Client) ApproveScene(ctx context.Context, id string) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodPost, scenePath(id, "approve"), nil, &resp)
	return resp, err
}

func (c *Client) RequestRevision(ctx context.Context, id, feedback string) (Scene, error) {
	var resp Scene
	err := c.do(ctx, http.MethodPost, scenePath(id, "request-revision"), map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

// RunPipeline runs every stage synchronously. A run that stopped on budget,
// stage failure or cancellation is not an error; check Outcome.
func (c *Client) RunPipeline(ctx context.Context, sceneID string) (RunResult, error) {
	var resp RunResult
	err := c.do(ctx, http.MethodPost, scenePath(sceneID, "pipeline"), nil, &resp)
	return resp, err
}

func (c *Client) EnqueuePipeline(ctx context.Context, sceneID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, scenePath(sceneID, "pipeline/jobs"), nil, &resp)
	return resp, err
}

func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v0/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Proposals lists a scene's proposals; empty filters match everything.
func (c *Client) Proposals(ctx context.Context, sceneID, status, runID string) ([]Proposal, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if runID != "" {
		q.Set("run_id", runID)
	}
	endpoint := scenePath(sceneID, "proposals")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) ApplyProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v0/proposals/"+url.PathEscape(id)+"/apply", nil, &resp)
	return resp, err
}

func (c *Client) DismissProposal(ctx context.Context, id, reason string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v0/proposals/"+url.PathEscape(id)+"/dismiss", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return "v0/projects/" + project
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func scenePath(id, p string) string {
	if p == "" {
		return "v0/scenes/" + url.PathEscape(id)
	}
	return fmt.Sprintf("v0/scenes/%s/%s", url.PathEscape(id), p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
