package agent

import (
	"fmt"

	"scenecraft/internal/domain"
)

var director = persona{
	role:        domain.RoleDirector,
	diffKey:     "direction",
	temperature: 0.6,
	maxTokens:   1000,
	system: "You are the director. You turn a script into blocking, performance notes and " +
		"pacing, and you defend the emotional line of the scene.",
	task: func(in Input) string {
		if p, ok := priorFrom(in, domain.RoleWriter); ok {
			return fmt.Sprintf("The writer proposes: %q. Give blocking and performance direction that works with or without that revision.", p.Summary)
		}
		return "Give blocking and performance direction for the scene as written."
	},
}
