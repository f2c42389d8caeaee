// Package engine provides the mission execution loop.
// This file assembles the user-facing final message from plan results.

package engine

import (
	"fmt"
	"strings"

	"github.com/rudi77/taskforce/internal/plan"
)

// genericCompletionMessage covers plans whose results carry no
// extractable text. Raw structured output never reaches the user.
const genericCompletionMessage = "All planned tasks finished successfully."

// summaryKeys is the priority order for extracting text from a task's
// execution result payload.
var summaryKeys = []string{"summary", "message", "output", "result", "text"}

// AssembleFinalMessage builds the completion message from a finished
// plan: the extracted summary of every completed task in order, with
// step headers when more than one task contributed.
func AssembleFinalMessage(p *plan.Plan) string {
	var parts []string
	var positions []int
	for _, t := range p.Items {
		if t.Status != plan.StatusCompleted {
			continue
		}
		if text := extractSummary(t.ExecutionResult); text != "" {
			parts = append(parts, text)
			positions = append(positions, t.Position)
		}
	}

	if len(parts) == 0 {
		return genericCompletionMessage
	}
	if len(parts) == 1 {
		return parts[0]
	}

	var b strings.Builder
	for i, text := range parts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Step %d: %s", positions[i], text)
	}
	return b.String()
}

// extractSummary pulls human-readable text out of an execution result
// payload, checking a priority list of keys plus the nested
// data.summary shape. Non-string payloads yield nothing.
func extractSummary(r *plan.Result) string {
	if r == nil || !r.Success {
		return ""
	}
	switch out := r.Output.(type) {
	case string:
		return strings.TrimSpace(out)
	case map[string]any:
		if s, ok := out["summary"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if data, ok := out["data"].(map[string]any); ok {
			if s, ok := data["summary"].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		for _, key := range summaryKeys[1:] {
			if s, ok := out[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
