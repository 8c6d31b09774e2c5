// Package agent implements the creative stages of the scene pipeline. Every
// stage shares one runner; personas differ only in prompts, sampling
// defaults and the diff section their answer must carry.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"scenecraft/internal/backend"
	"scenecraft/internal/domain"
	"scenecraft/internal/retry"
)

var ErrMalformedOutput = errors.New("malformed stage output")

type Input struct {
	RunID   string
	Scene   domain.Scene
	Project domain.Project
	// Prior holds the proposals earlier stages produced in this run, in order.
	Prior []domain.Proposal
}

// Stage is one creative role. Run returns nil, nil when the role had nothing
// usable to say; an error means the backend could not be reached.
type Stage interface {
	Role() domain.Role
	EstimateCost() float64
	Run(ctx context.Context, in Input) (*domain.Proposal, error)
}

type persona struct {
	role        domain.Role
	diffKey     string
	system      string
	temperature float64
	maxTokens   int
	task        func(in Input) string
}

func (p persona) systemPrompt() string {
	return p.system + "\n\n" + fmt.Sprintf(
		`Respond with JSON only: {"summary": "<one line>", "rationale": "<why>", "runtime_impact_seconds": <signed integer>, "diff": {"%s": <your changes>}}`,
		p.diffKey)
}

type stage struct {
	persona
	backend     backend.Backend
	caller      *retry.Caller
	model       string
	maxTokens   int
	temperature float64
	overhead    int
	logger      *slog.Logger
	now         func() time.Time
}

func (s *stage) Role() domain.Role { return s.role }

// EstimateCost is the worst case: the whole token budget plus prompt
// overhead, billed at the output rate.
func (s *stage) EstimateCost() float64 {
	return float64(s.maxTokens+s.overhead) * s.backend.Pricing().OutputPerToken
}

func (s *stage) Run(ctx context.Context, in Input) (*domain.Proposal, error) {
	req := backend.Request{
		Prompt:       buildPrompt(in, s.task(in)),
		SystemPrompt: s.systemPrompt(),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		Model:        s.model,
	}
	comp, err := retry.Do(ctx, s.caller, func(ctx context.Context) (backend.Completion, error) {
		return s.backend.Complete(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%s via %s: %w", s.role, s.backend.Name(), err)
	}
	if comp.CostUSD < 0 {
		return nil, fmt.Errorf("%s via %s: negative cost %v", s.role, s.backend.Name(), comp.CostUSD)
	}
	out, err := parseOutput(comp.Content, s.diffKey)
	if err != nil {
		s.logger.Warn("stage output discarded", "role", s.role, "scene_id", in.Scene.ID, "run_id", in.RunID, "err", err)
		return nil, nil
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	return &domain.Proposal{
		ID:                   uuid.NewString(),
		SceneID:              in.Scene.ID,
		ProjectID:            in.Scene.ProjectID,
		RunID:                in.RunID,
		Role:                 s.role,
		Summary:              out.Summary,
		Rationale:            out.Rationale,
		RuntimeImpactSeconds: out.RuntimeImpactSeconds,
		Diff:                 out.Diff,
		Status:               domain.ProposalPending,
		TokensUsed:           comp.TokensUsed,
		CostUSD:              comp.CostUSD,
		Model:                comp.Model,
		CreatedAt:            now().UTC().Format(time.RFC3339),
	}, nil
}

type stageOutput struct {
	Summary              string          `json:"summary"`
	Rationale            string          `json:"rationale"`
	RuntimeImpactSeconds int             `json:"runtime_impact_seconds"`
	Diff                 json.RawMessage `json:"diff"`
}

// parseOutput accepts the JSON object anywhere in content, so answers
// wrapped in code fences or chatter still parse.
func parseOutput(content, diffKey string) (stageOutput, error) {
	var out stageOutput
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return out, fmt.Errorf("%w: no JSON object", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	out.Rationale = strings.TrimSpace(out.Rationale)
	if out.Summary == "" {
		return out, fmt.Errorf("%w: empty summary", ErrMalformedOutput)
	}
	var diff map[string]json.RawMessage
	if err := json.Unmarshal(out.Diff, &diff); err != nil {
		return out, fmt.Errorf("%w: diff is not an object", ErrMalformedOutput)
	}
	if v, ok := diff[diffKey]; !ok || len(v) == 0 || string(v) == "null" {
		return out, fmt.Errorf("%w: diff.%s missing", ErrMalformedOutput, diffKey)
	}
	return out, nil
}

func buildPrompt(in Input, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", in.Project.Title)
	if in.Project.Logline != "" {
		fmt.Fprintf(&b, "Logline: %s\n", in.Project.Logline)
	}
	if in.Project.Bible != "" {
		fmt.Fprintf(&b, "Story bible:\n%s\n", truncate(in.Project.Bible, 2000))
	}
	fmt.Fprintf(&b, "\nScene: %s (version %d, %ds)\n", in.Scene.Title, in.Scene.Version, in.Scene.DurationSeconds)
	if in.Scene.Heading != "" {
		fmt.Fprintf(&b, "Heading: %s\n", in.Scene.Heading)
	}
	if in.Scene.Synopsis != "" {
		fmt.Fprintf(&b, "Synopsis: %s\n", in.Scene.Synopsis)
	}
	if in.Scene.Script != "" {
		fmt.Fprintf(&b, "Script:\n%s\n", in.Scene.Script)
	}
	if len(in.Prior) > 0 {
		b.WriteString("\nEarlier notes in this pass:\n")
		for _, p := range in.Prior {
			fmt.Fprintf(&b, "- %s: %s (%+ds)\n", p.Role, p.Summary, p.RuntimeImpactSeconds)
		}
	}
	b.WriteString("\n")
	b.WriteString(task)
	return b.String()
}

// priorFrom returns the proposal an earlier role made in this run, if any.
func priorFrom(in Input, role domain.Role) (domain.Proposal, bool) {
	for _, p := range in.Prior {
		if p.Role == role {
			return p, true
		}
	}
	return domain.Proposal{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
