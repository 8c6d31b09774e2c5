// Package backend holds the creative services the pipeline stages call.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"scenecraft/internal/config"
)

var ErrUnknownBackend = errors.New("unknown backend")

type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Model        string
}

type Completion struct {
	Content     string
	TokensUsed  int
	CostUSD     float64
	Model       string
	ProcessedAt time.Time
}

// Pricing is per token, in USD.
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

func PricingFromConfig(cfg config.BackendConfig) Pricing {
	return Pricing{
		InputPerToken:  cfg.InputCostPerMillion / 1e6,
		OutputPerToken: cfg.OutputCostPerMillion / 1e6,
	}
}

func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerToken + float64(outputTokens)*p.OutputPerToken
}

type Backend interface {
	Name() string
	Pricing() Pricing
	Complete(ctx context.Context, req Request) (Completion, error)
}

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Backend, e.Code, e.Body)
}

// Transient is true for rate limiting, unavailability and timeouts.
func (e *StatusError) Transient() bool {
	switch e.Code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

type Registry map[string]Backend

func (r Registry) Get(name string) (Backend, error) {
	b, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FromConfig builds every configured backend.
func FromConfig(cfgs map[string]config.BackendConfig, now func() time.Time) (Registry, error) {
	reg := make(Registry, len(cfgs))
	for name, cfg := range cfgs {
		switch cfg.Kind {
		case "stub":
			reg[name] = NewStub(name, cfg, now)
		case "openai":
			b, err := NewOpenAI(name, cfg, now)
			if err != nil {
				return nil, err
			}
			reg[name] = b
		default:
			return nil, fmt.Errorf("backend %s: unknown kind %q", name, cfg.Kind)
		}
	}
	return reg, nil
}
