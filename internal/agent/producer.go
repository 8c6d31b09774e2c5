package agent

import (
	"fmt"
	"strings"

	"scenecraft/internal/domain"
)

var producer = persona{
	role:        domain.RoleProducer,
	diffKey:     "schedule",
	temperature: 0.3,
	maxTokens:   600,
	system: "You are the line producer. You translate creative notes into shooting days, crew, " +
		"locations and cost risk, and you flag what the budget cannot carry.",
	task: func(in Input) string {
		var impact int
		for _, p := range in.Prior {
			impact += p.RuntimeImpactSeconds
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Schedule the scene. The notes so far change runtime by %+d seconds.", impact)
		if in.Project.BudgetCapUSD > 0 {
			fmt.Fprintf(&b, " Development spend so far is $%.2f of $%.2f.", in.Project.CurrentSpendUSD, in.Project.BudgetCapUSD)
		}
		return b.String()
	},
}
