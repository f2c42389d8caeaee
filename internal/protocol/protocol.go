// Package protocol defines the typed event stream a mission run emits
// towards clients, serialized as NDJSON.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType enumerates engine -> client events. Ordering of emitted
// events follows the execution loop's state machine.
type EventType string

const (
	EventStarted     EventType = "started"
	EventStepStart   EventType = "step_start"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventPlanUpdated EventType = "plan_updated"
	EventLLMToken    EventType = "llm_token"
	EventAskUser     EventType = "ask_user"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// NewSessionID generates a new opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

func (eventBase) isEvent() {}

// StartedEvent opens a mission run.
type StartedEvent struct {
	eventBase
	Mission string `json:"mission"`
	PlanID  string `json:"plan_id,omitempty"`
}

func NewStartedEvent(sessionID, mission, planID string) StartedEvent {
	return StartedEvent{
		eventBase: eventBase{Type: EventStarted, SessionID: sessionID},
		Mission:   mission,
		PlanID:    planID,
	}
}

func (e StartedEvent) GetType() EventType { return e.Type }

// StepStartEvent marks one loop iteration beginning.
type StepStartEvent struct {
	eventBase
	Iteration int `json:"iteration"`
}

func NewStepStartEvent(sessionID string, iteration int) StepStartEvent {
	return StepStartEvent{
		eventBase: eventBase{Type: EventStepStart, SessionID: sessionID},
		Iteration: iteration,
	}
}

func (e StepStartEvent) GetType() EventType { return e.Type }

// ToolCallEvent announces a tool invocation.
type ToolCallEvent struct {
	eventBase
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

func NewToolCallEvent(sessionID, tool string, args map[string]any) ToolCallEvent {
	return ToolCallEvent{
		eventBase: eventBase{Type: EventToolCall, SessionID: sessionID},
		Tool:      tool,
		Args:      args,
	}
}

func (e ToolCallEvent) GetType() EventType { return e.Type }

// ToolResultEvent carries a tool invocation's outcome.
type ToolResultEvent struct {
	eventBase
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewToolResultEvent(sessionID, tool string, success bool, output, errMsg string) ToolResultEvent {
	return ToolResultEvent{
		eventBase: eventBase{Type: EventToolResult, SessionID: sessionID},
		Tool:      tool,
		Success:   success,
		Output:    output,
		Error:     errMsg,
	}
}

func (e ToolResultEvent) GetType() EventType { return e.Type }

// PlanUpdatedEvent carries the current rendered plan after a mutation.
type PlanUpdatedEvent struct {
	eventBase
	PlanID string `json:"plan_id"`
	Plan   string `json:"plan"`
}

func NewPlanUpdatedEvent(sessionID, planID, rendered string) PlanUpdatedEvent {
	return PlanUpdatedEvent{
		eventBase: eventBase{Type: EventPlanUpdated, SessionID: sessionID},
		PlanID:    planID,
		Plan:      rendered,
	}
}

func (e PlanUpdatedEvent) GetType() EventType { return e.Type }

// LLMTokenEvent streams one text delta from the model.
type LLMTokenEvent struct {
	eventBase
	Text string `json:"text"`
}

func NewLLMTokenEvent(sessionID, text string) LLMTokenEvent {
	return LLMTokenEvent{
		eventBase: eventBase{Type: EventLLMToken, SessionID: sessionID},
		Text:      text,
	}
}

func (e LLMTokenEvent) GetType() EventType { return e.Type }

// AskUserEvent pauses the mission on a question.
type AskUserEvent struct {
	eventBase
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

func NewAskUserEvent(sessionID, question string, options []string) AskUserEvent {
	return AskUserEvent{
		eventBase: eventBase{Type: EventAskUser, SessionID: sessionID},
		Question:  question,
		Options:   options,
	}
}

func (e AskUserEvent) GetType() EventType { return e.Type }

// FinalAnswerEvent carries the user-facing result message.
type FinalAnswerEvent struct {
	eventBase
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewFinalAnswerEvent(sessionID, message, status string) FinalAnswerEvent {
	return FinalAnswerEvent{
		eventBase: eventBase{Type: EventFinalAnswer, SessionID: sessionID},
		Message:   message,
		Status:    status,
	}
}

func (e FinalAnswerEvent) GetType() EventType { return e.Type }

// ErrorEvent reports recoverable issues during a run.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func NewErrorEvent(sessionID, message, kind string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, SessionID: sessionID},
		Message:   message,
		Kind:      kind,
	}
}

func (e ErrorEvent) GetType() EventType { return e.Type }

// CompleteEvent terminates the event stream for a run.
type CompleteEvent struct {
	eventBase
	Status string `json:"status"`
}

func NewCompleteEvent(sessionID, status string) CompleteEvent {
	return CompleteEvent{
		eventBase: eventBase{Type: EventComplete, SessionID: sessionID},
		Status:    status,
	}
}

func (e CompleteEvent) GetType() EventType { return e.Type }
