package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"scenecraft/internal/config"
)

// Stub is an offline backend. It answers in the JSON shape the system prompt
// asks for, deterministically for a given prompt.
type Stub struct {
	name    string
	model   string
	pricing Pricing
	now     func() time.Time
}

func NewStub(name string, cfg config.BackendConfig, now func() time.Time) *Stub {
	model := cfg.Model
	if model == "" {
		model = "stub-1"
	}
	if now == nil {
		now = time.Now
	}
	return &Stub{name: name, model: model, pricing: PricingFromConfig(cfg), now: now}
}

func (s *Stub) Name() string     { return s.name }
func (s *Stub) Pricing() Pricing { return s.pricing }

var diffKeyPattern = regexp.MustCompile(`"diff":\s*\{\s*"([a-z_]+)"`)

func (s *Stub) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	key := "notes"
	if m := diffKeyPattern.FindStringSubmatch(req.SystemPrompt); m != nil {
		key = m[1]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Prompt))
	seed := h.Sum32()

	out := map[string]any{
		"summary":                fmt.Sprintf("%s pass over the scene", strings.ReplaceAll(key, "_", " ")),
		"rationale":              firstLine(req.Prompt),
		"runtime_impact_seconds": int(seed%21) - 10,
		"diff":                   map[string]any{key: fmt.Sprintf("stub %s note %08x", key, seed)},
	}
	data, err := json.Marshal(out)
	if err != nil {
		return Completion{}, err
	}
	content := string(data)

	in := approxTokens(req.SystemPrompt) + approxTokens(req.Prompt)
	outTokens := approxTokens(content)
	if req.MaxTokens > 0 && outTokens > req.MaxTokens {
		outTokens = req.MaxTokens
	}
	model := req.Model
	if model == "" {
		model = s.model
	}
	return Completion{
		Content:     content,
		TokensUsed:  in + outTokens,
		CostUSD:     s.pricing.Cost(in, outTokens),
		Model:       model,
		ProcessedAt: s.now().UTC(),
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
