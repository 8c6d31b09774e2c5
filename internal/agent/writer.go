package agent

import "scenecraft/internal/domain"

var writer = persona{
	role:        domain.RoleWriter,
	diffKey:     "script",
	temperature: 0.8,
	maxTokens:   1500,
	system: "You are the staff writer on a film production. You revise scene scripts for voice, " +
		"subtext and economy. You propose changes; you never assume they will be accepted.",
	task: func(in Input) string {
		if in.Scene.Script == "" {
			return "The scene has no script yet. Draft one from the synopsis and heading."
		}
		return "Propose a revised script. Keep what works, cut what repeats, sharpen the turn of the scene."
	},
}
