package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rudi77/taskforce/internal/plan"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPlanNotFound    = errors.New("plan not found")
)

// SessionState is the durable per-session record. It survives process
// restarts so a paused mission can be resumed later.
type SessionState struct {
	SessionID string `json:"session_id"`
	Mission   string `json:"mission"`
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`

	History []ChatMessage `json:"history"`

	// Q&A pairs collected via user clarification, oldest first.
	Answers []QA `json:"answers,omitempty"`

	// Pause bookkeeping. When the engine pauses on a question it
	// snapshots the exact messages and the tool-call id so the user's
	// reply can be spliced back in as a tool result on resume.
	PendingQuestion    string        `json:"pending_question,omitempty"`
	PendingOptions     []string      `json:"pending_options,omitempty"`
	PausedMessages     []ChatMessage `json:"paused_messages,omitempty"`
	PausedToolCallID   string        `json:"paused_tool_call_id,omitempty"`
	PausedTaskPosition int           `json:"paused_task_position,omitempty"`
	PausedIteration    int           `json:"paused_iteration,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QA is one question asked of the user and the answer given.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Paused reports whether the session is waiting on a user answer.
func (s *SessionState) Paused() bool {
	return s.PendingQuestion != ""
}

// StateStore persists session state. Implementations must be safe for
// use from a single engine goroutine; the engine saves after every
// state mutation so a crash loses at most the current step.
type StateStore interface {
	LoadState(ctx context.Context, sessionID string) (*SessionState, error)
	SaveState(ctx context.Context, st *SessionState) error
	ListSessions(ctx context.Context) ([]SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// PlanStore persists plans keyed by plan id.
type PlanStore interface {
	LoadPlan(ctx context.Context, planID string) (*plan.Plan, error)
	SavePlan(ctx context.Context, p *plan.Plan) error
}

// ArtifactStore holds large tool outputs out of band. The engine
// replaces oversized results in the conversation with a handle plus a
// preview; the full content stays retrievable by handle.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, sessionID, content string) (handle string, err error)
	GetArtifact(ctx context.Context, handle string) (string, error)
}
