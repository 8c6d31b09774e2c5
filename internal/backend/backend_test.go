package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"scenecraft/internal/backend"
	"scenecraft/internal/config"
	"scenecraft/internal/retry"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestOpenAICompleteParsesUsage(t *testing.T) {
	t.Setenv("SCENECRAFT_TEST_KEY", "secret-key")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("authorization header %q", got)
		}
		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-test" || body.MaxTokens != 800 || body.Temperature != 0.7 {
			t.Errorf("unexpected request %+v", body)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "draft it" {
			t.Errorf("unexpected messages %+v", body.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "gpt-test-0613",
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": `{"summary":"ok"}`}}},
			"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
	}))
	defer srv.Close()

	b, err := backend.NewOpenAI("remote", config.BackendConfig{
		Kind: "openai", BaseURL: srv.URL, Model: "gpt-test", APIKeyEnv: "SCENECRAFT_TEST_KEY",
		InputCostPerMillion: 1, OutputCostPerMillion: 4,
	}, fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Complete(context.Background(), backend.Request{Prompt: "draft it", SystemPrompt: "you write", Temperature: 0.7, MaxTokens: 800})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Content != `{"summary":"ok"}` || got.TokensUsed != 150 || got.Model != "gpt-test-0613" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if !near(got.CostUSD, 100*1e-6+50*4e-6) {
		t.Fatalf("cost = %v", got.CostUSD)
	}
	if !got.ProcessedAt.Equal(fixedNow()) {
		t.Fatalf("processed at %s", got.ProcessedAt)
	}
}

func TestOpenAIStatusClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code      int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		}))
		b, err := backend.NewOpenAI("remote", config.BackendConfig{Kind: "openai", BaseURL: srv.URL + "/v1", Model: "m"}, fixedNow)
		if err != nil {
			t.Fatal(err)
		}
		_, err = b.Complete(context.Background(), backend.Request{Prompt: "x"})
		srv.Close()
		var se *backend.StatusError
		if !errors.As(err, &se) || se.Code != tc.code {
			t.Fatalf("status %d: got %v", tc.code, err)
		}
		if retry.IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient=%v", tc.code, !tc.transient)
		}
	}
}

func TestOpenAIRetriedThroughCaller(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "fine"}}},
		})
	}))
	defer srv.Close()
	b, err := backend.NewOpenAI("remote", config.BackendConfig{Kind: "openai", BaseURL: srv.URL, Model: "m", OutputCostPerMillion: 10}, fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	caller := retry.NewCaller(retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}, nil)
	got, err := retry.Do(context.Background(), caller, func(ctx context.Context) (backend.Completion, error) {
		return b.Complete(ctx, backend.Request{Prompt: "abcdefgh"})
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 2 || got.Content != "fine" {
		t.Fatalf("calls=%d content=%q", calls.Load(), got.Content)
	}
	// usage missing: tokens estimated from text
	if got.TokensUsed != 3 || got.Model != "m" {
		t.Fatalf("estimated usage %+v", got)
	}
}

func TestStubFollowsRequestedShape(t *testing.T) {
	t.Parallel()
	s := backend.NewStub("stub", config.BackendConfig{Kind: "stub", OutputCostPerMillion: 10, InputCostPerMillion: 2}, fixedNow)
	req := backend.Request{
		SystemPrompt: `Respond with JSON only: {"summary": "...", "rationale": "...", "runtime_impact_seconds": 0, "diff": {"shots": "..."}}`,
		Prompt:       "Scene: Opening\nINT. KITCHEN",
		MaxTokens:    600,
	}
	a, err := s.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Complete(context.Background(), req)
	if a.Content != b.Content {
		t.Fatal("stub output not deterministic")
	}
	var out struct {
		Summary string                     `json:"summary"`
		Impact  int                        `json:"runtime_impact_seconds"`
		Diff    map[string]json.RawMessage `json:"diff"`
	}
	if err := json.Unmarshal([]byte(a.Content), &out); err != nil {
		t.Fatalf("stub content not json: %v", err)
	}
	if _, ok := out.Diff["shots"]; !ok || out.Summary == "" {
		t.Fatalf("stub ignored requested shape: %s", a.Content)
	}
	if out.Impact < -10 || out.Impact > 10 {
		t.Fatalf("impact %d", out.Impact)
	}
	if a.CostUSD <= 0 || a.TokensUsed <= 0 || a.Model != "stub-1" {
		t.Fatalf("usage not reported: %+v", a)
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	reg, err := backend.FromConfig(config.Default().Backends, fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Get("stub")
	if err != nil {
		t.Fatal(err)
	}
	if !near(b.Pricing().OutputPerToken, 1e-5) {
		t.Fatalf("output rate %v", b.Pricing().OutputPerToken)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, backend.ErrUnknownBackend) {
		t.Fatalf("missing backend: %v", err)
	}
	if _, err := backend.FromConfig(map[string]config.BackendConfig{"x": {Kind: "carrier-pigeon"}}, fixedNow); err == nil {
		t.Fatal("unknown kind accepted")
	}
}
