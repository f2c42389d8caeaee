package plan

import (
	"fmt"
	"strings"
)

// FormatForPrompt returns a compact representation of the plan for context
// injection, so the model can track progress across iterations.
func (p *Plan) FormatForPrompt() string {
	var sb strings.Builder

	sb.WriteString("[PLAN]\n")
	sb.WriteString(fmt.Sprintf("Mission: %s\n", p.Mission))

	for i := range p.Items {
		t := &p.Items[i]

		var icon string
		switch t.Status {
		case StatusCompleted:
			icon = "✓"
		case StatusSkipped:
			icon = "⊘"
		case StatusFailed:
			icon = "✗"
		case StatusInProgress:
			icon = ">"
		default:
			icon = " "
		}

		desc := t.Description
		if len(desc) > 80 {
			desc = desc[:77] + "..."
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s", t.Position, icon, desc))
		if len(t.Dependencies) > 0 {
			deps := make([]string, len(t.Dependencies))
			for j, d := range t.Dependencies {
				deps[j] = fmt.Sprintf("%d", d)
			}
			sb.WriteString(fmt.Sprintf(" (after %s)", strings.Join(deps, ",")))
		}
		if t.Attempts > 0 {
			sb.WriteString(fmt.Sprintf(" [attempts=%d]", t.Attempts))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("[/PLAN]")
	return sb.String()
}
