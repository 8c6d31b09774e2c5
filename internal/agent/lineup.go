package agent

import (
	"fmt"
	"log/slog"
	"time"

	"scenecraft/internal/backend"
	"scenecraft/internal/config"
	"scenecraft/internal/retry"
)

// personas lists the roles in pipeline order. Later roles read the
// proposals of earlier ones, so the order is fixed.
func personas() []persona {
	return []persona{writer, director, cinematographer, editor, producer, showrunner}
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Lineup builds the ordered stages from config: writer, director,
// cinematographer, editor, producer, showrunner.
func Lineup(cfg *config.Config, reg backend.Registry, caller *retry.Caller, opts Options) ([]Stage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var stages []Stage
	for _, p := range personas() {
		role := string(p.role)
		b, err := reg.Get(cfg.StageBackend(role))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", role, err)
		}
		s := &stage{
			persona:     p,
			backend:     b,
			caller:      caller,
			maxTokens:   p.maxTokens,
			temperature: p.temperature,
			overhead:    cfg.Pipeline.PromptOverheadTokens,
			logger:      logger,
			now:         opts.Now,
		}
		if sc, ok := cfg.Pipeline.Stages[role]; ok {
			s.model = sc.Model
			if sc.MaxTokens > 0 {
				s.maxTokens = sc.MaxTokens
			}
			if sc.Temperature != nil {
				s.temperature = *sc.Temperature
			}
		}
		stages = append(stages, s)
	}
	return stages, nil
}
