package agent

import (
	"fmt"

	"scenecraft/internal/domain"
)

var editor = persona{
	role:        domain.RoleEditor,
	diffKey:     "cuts",
	temperature: 0.4,
	maxTokens:   800,
	system: "You are the picture editor. You think in cuts, rhythm and runtime, and you say " +
		"plainly which moments the scene does not need.",
	task: func(in Input) string {
		if p, ok := priorFrom(in, domain.RoleCinematographer); ok {
			return fmt.Sprintf("Plan the cut from the proposed coverage (%q). Estimate the runtime change.", p.Summary)
		}
		return "Plan the cut of the scene and estimate the runtime change."
	},
}
