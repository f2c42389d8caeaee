// Package engine provides the mission execution loop.
// This file parses the model's next-action responses.

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ActionType enumerates the decisions the model can make in one step.
type ActionType string

const (
	ActionToolCall   ActionType = "TOOL_CALL"
	ActionAskUser    ActionType = "ASK_USER"
	ActionRespond    ActionType = "RESPOND"
	ActionComplete   ActionType = "COMPLETE"
	ActionReplan     ActionType = "REPLAN"
	ActionFinishStep ActionType = "FINISH_STEP"
)

func knownActionType(s string) bool {
	switch ActionType(s) {
	case ActionToolCall, ActionAskUser, ActionRespond, ActionComplete, ActionReplan, ActionFinishStep:
		return true
	}
	return false
}

// ToolRequest is one requested tool invocation within a step.
type ToolRequest struct {
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`
}

// Action is the parsed decision for one reasoning step.
type Action struct {
	Type      ActionType
	Tool      string
	ToolInput map[string]any
	// Calls carries a batch of tool requests when the model asks for
	// several in one step. An empty Calls with a Tool set means a
	// single invocation.
	Calls    []ToolRequest
	Summary  string
	Question string
	Options  []string
}

// Requests returns the tool invocations of a TOOL_CALL action in
// request order, normalizing the single-tool form into a batch of one.
func (a Action) Requests() []ToolRequest {
	if len(a.Calls) > 0 {
		return a.Calls
	}
	return []ToolRequest{{Tool: a.Tool, ToolInput: a.ToolInput}}
}

// ErrUnparsableResponse marks a model response from which no action and
// no summary could be recovered. Callers must not treat the carrier
// action as a real decision.
var ErrUnparsableResponse = errors.New("model response is unparsable")

// internalErrorMessage replaces unusable model output. Raw malformed
// JSON is never surfaced to the user.
const internalErrorMessage = "I ran into an internal error while deciding the next step. Please try again."

var summaryFieldRe = regexp.MustCompile(`"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// ParseAction parses a model response into an Action. It accepts the
// flat schema {"action": "...", "tool": ..., "tool_input": ...,
// "summary": ..., "question": ..., "options": [...]} and the legacy
// nested schema {"action": {"type": ..., "tool": ..., "input": ...},
// "final_response": {"summary": ...}}. An unknown action type with a
// tool field present is reinterpreted as TOOL_CALL, which catches the
// model writing a tool name where the action type belongs.
//
// ParseAction always returns a usable Action. When parsing fails it
// salvages a summary field by regex if one exists, otherwise returns a
// RESPOND with a generic message, and the error describes what went
// wrong for logging.
func ParseAction(raw string) (Action, error) {
	text := extractJSON(raw)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return salvage(raw, fmt.Errorf("response is not a JSON object: %w", err))
	}

	rawAction, ok := payload["action"]
	if !ok {
		return salvage(raw, fmt.Errorf("response has no action field"))
	}

	var actionStr string
	if err := json.Unmarshal(rawAction, &actionStr); err == nil {
		return parseFlat(actionStr, payload)
	}

	var nested struct {
		Type  string         `json:"type"`
		Tool  string         `json:"tool"`
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal(rawAction, &nested); err != nil {
		return salvage(raw, fmt.Errorf("action field is neither string nor object: %w", err))
	}
	return parseNested(nested.Type, nested.Tool, nested.Input, payload)
}

func parseFlat(actionStr string, payload map[string]json.RawMessage) (Action, error) {
	a := Action{
		Tool:      stringField(payload, "tool"),
		ToolInput: mapField(payload, "tool_input"),
		Calls:     callsField(payload),
		Summary:   stringField(payload, "summary"),
		Question:  stringField(payload, "question"),
		Options:   stringSliceField(payload, "options"),
	}
	return resolveType(actionStr, a)
}

func parseNested(typeStr, tool string, input map[string]any, payload map[string]json.RawMessage) (Action, error) {
	a := Action{
		Tool:      tool,
		ToolInput: input,
		Question:  stringField(payload, "question"),
		Options:   stringSliceField(payload, "options"),
	}
	if fr, ok := payload["final_response"]; ok {
		var final struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(fr, &final); err == nil {
			a.Summary = final.Summary
		}
	}
	if a.Summary == "" {
		a.Summary = stringField(payload, "summary")
	}
	return resolveType(typeStr, a)
}

// resolveType normalizes the declared action type, recovering from the
// tool-name-as-action confusion.
func resolveType(typeStr string, a Action) (Action, error) {
	norm := strings.ToUpper(strings.TrimSpace(typeStr))
	if knownActionType(norm) {
		a.Type = ActionType(norm)
		if a.Type == ActionToolCall && a.Tool == "" && len(a.Calls) == 0 {
			return salvage("", fmt.Errorf("TOOL_CALL action without a tool name"))
		}
		return a, nil
	}

	if a.Tool != "" || len(a.Calls) > 0 {
		a.Type = ActionToolCall
		return a, nil
	}

	// The model put a tool name in the action slot with no separate
	// tool field. Trust the name as-is; the adapter reports unknown
	// tools as failed observations.
	if trimmed := strings.TrimSpace(typeStr); trimmed != "" && !strings.ContainsAny(trimmed, " \t\n") {
		a.Type = ActionToolCall
		a.Tool = trimmed
		return a, nil
	}

	return salvage("", fmt.Errorf("unknown action type %q", typeStr))
}

// salvage tries to recover a usable summary from malformed output.
// With nothing to recover the returned error wraps
// ErrUnparsableResponse; the carrier RESPOND exists only so hooks have
// something to log, it must never complete a task.
func salvage(raw string, cause error) (Action, error) {
	if m := summaryFieldRe.FindStringSubmatch(raw); m != nil {
		var summary string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &summary); err == nil && strings.TrimSpace(summary) != "" {
			return Action{Type: ActionRespond, Summary: summary}, cause
		}
	}
	return Action{Type: ActionRespond, Summary: internalErrorMessage},
		fmt.Errorf("%w: %v", ErrUnparsableResponse, cause)
}

// extractJSON strips markdown fences and isolates the outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func stringField(payload map[string]json.RawMessage, key string) string {
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func mapField(payload map[string]json.RawMessage, key string) map[string]any {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func callsField(payload map[string]json.RawMessage) []ToolRequest {
	raw, ok := payload["tool_calls"]
	if !ok {
		return nil
	}
	var calls []ToolRequest
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil
	}
	// Entries without a tool name carry nothing executable.
	out := calls[:0]
	for _, c := range calls {
		if strings.TrimSpace(c.Tool) != "" {
			out = append(out, c)
		}
	}
	return out
}

func stringSliceField(payload map[string]json.RawMessage, key string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	var xs []string
	if err := json.Unmarshal(raw, &xs); err != nil {
		return nil
	}
	return xs
}
