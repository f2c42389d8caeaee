// Package prompts holds the prompt templates used by the engine and
// planner. Templates are versioned so changes show up in logs.
package prompts

import (
	"fmt"
	"strings"
)

const Version = "v1"

const missionSystem = `You are a task-execution agent. You work through a plan one task at a time, calling tools and reporting results.

Respond with a single JSON object and nothing else:
{"action": "TOOL_CALL" | "ASK_USER" | "RESPOND" | "COMPLETE" | "REPLAN",
 "tool": "<tool name, for TOOL_CALL>",
 "tool_input": {<arguments, for TOOL_CALL>},
 "tool_calls": [{"tool": "...", "tool_input": {...}}],
 "summary": "<result text, for RESPOND and COMPLETE>",
 "question": "<question text, for ASK_USER>",
 "options": ["<optional answer choices, for ASK_USER>"]}

Rules:
- Use TOOL_CALL to gather information or act. A successful tool call does not finish the task; issue RESPOND with a summary when the task's acceptance criteria are met.
- For several independent lookups in one step, put them in "tool_calls" instead of "tool"; the results come back in the same order.
- Use ASK_USER only when you cannot proceed without information from the user.
- Use COMPLETE only when the remaining tasks are unnecessary and the mission is already satisfied.
- Use REPLAN when the current task keeps failing and needs a different approach.
- Never invent tool names. Available tools are listed below.`

// MissionSystem builds the per-iteration system prompt. It is rebuilt
// every loop pass so the plan rendering reflects current state.
func MissionSystem(mission, planText, currentTask, toolCatalog string, answers []string) string {
	var b strings.Builder
	b.WriteString(missionSystem)
	b.WriteString("\n\n## Mission\n")
	b.WriteString(mission)
	b.WriteString("\n\n")
	b.WriteString(planText)
	b.WriteString("\n## Current task\n")
	b.WriteString(currentTask)
	if len(answers) > 0 {
		b.WriteString("\n\n## Answers from the user\n")
		for _, a := range answers {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n\n## Available tools\n")
	b.WriteString(toolCatalog)
	return b.String()
}

const plannerSystem = `You are a planning assistant. Given a mission and the available tools, produce a minimal ordered plan.

Respond with a single JSON object and nothing else:
{"items": [{"description": "<what to do>", "acceptance_criteria": "<how to know it is done>", "dependencies": [<1-based positions this step needs first>]}]}

Rules:
- Prefer the fewest steps that can satisfy the mission: one step for a simple query, three to five for multi-stage work.
- Do not choose tools or parameters in the plan; those are decided at execution time.
- Dependencies reference earlier steps by position, starting at 1.`

// PlannerSystem is the system prompt for initial plan generation.
func PlannerSystem() string { return plannerSystem }

// PlannerUser renders the plan-generation request.
func PlannerUser(mission, toolCatalog string, answers []string) string {
	var b strings.Builder
	b.WriteString("Mission:\n")
	b.WriteString(mission)
	if len(answers) > 0 {
		b.WriteString("\n\nAnswers already provided by the user:\n")
		for _, a := range answers {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(toolCatalog)
	return b.String()
}

const replannerSystem = `You repair a failing step in an execution plan. Pick exactly one strategy.

Respond with a single JSON object and nothing else:
{"strategy": "RETRY_WITH_PARAMS" | "SWAP_TOOL" | "DECOMPOSE_TASK" | "SKIP",
 "tool": "<new tool, for SWAP_TOOL>",
 "tool_input": {<new arguments, for RETRY_WITH_PARAMS and SWAP_TOOL>},
 "subtasks": [{"description": "...", "acceptance_criteria": "..."}]}

Rules:
- RETRY_WITH_PARAMS when the tool is right but the arguments were wrong.
- SWAP_TOOL when a different tool fits the step better.
- DECOMPOSE_TASK when the step is too coarse; give two to four subtasks.
- SKIP when the step cannot succeed and the mission can proceed without it.`

// ReplannerSystem is the system prompt for recovery strategy selection.
func ReplannerSystem() string { return replannerSystem }

// ReplannerUser renders the failing task and its history for repair.
func ReplannerUser(planText string, position int, description, lastError string, attempts int) string {
	return fmt.Sprintf("%s\nFailing step %d: %s\nAttempts so far: %d\nLast error: %s",
		planText, position, description, attempts, lastError)
}

// AnswerNote wraps a user's answer so the model reads it as a reply to
// the pending question rather than a new mission.
func AnswerNote(answer string) string {
	return fmt.Sprintf("%s\n\n[The user answered the pending question above. Treat this text as the answer and continue the current task.]", answer)
}

// InvalidActionNote is fed back after a reply that matched no known
// action shape, asking the model to restate its decision.
func InvalidActionNote() string {
	return "[Your previous reply did not match the required format. Respond with a single JSON object using the documented action schema and nothing else.]"
}
