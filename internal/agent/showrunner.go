package agent

import (
	"fmt"

	"scenecraft/internal/domain"
)

var showrunner = persona{
	role:        domain.RoleShowrunner,
	diffKey:     "verdict",
	temperature: 0.4,
	maxTokens:   600,
	system: "You are the showrunner. You read every note on the scene, weigh it against the " +
		"story bible, and decide which notes go forward.",
	task: func(in Input) string {
		return fmt.Sprintf("Review the %d notes above. For each role say keep, revise or drop, and give an overall verdict.", len(in.Prior))
	},
}
