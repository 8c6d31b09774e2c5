package agent

import (
	"fmt"

	"scenecraft/internal/domain"
)

var cinematographer = persona{
	role:        domain.RoleCinematographer,
	diffKey:     "shots",
	temperature: 0.5,
	maxTokens:   800,
	system: "You are the director of photography. You design coverage: a shot list with framing, " +
		"lens, movement and lighting intent for each setup.",
	task: func(in Input) string {
		if p, ok := priorFrom(in, domain.RoleDirector); ok {
			return fmt.Sprintf("Build a shot list that serves the director's plan: %q.", p.Summary)
		}
		return "Build a shot list for the scene."
	},
}
