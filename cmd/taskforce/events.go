package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
	"github.com/rudi77/taskforce/internal/protocol"
)

// EventHook bridges engine hooks to the NDJSON protocol event stream.
type EventHook struct {
	engine.NopHook
	mu      sync.Mutex
	w       io.Writer
	started bool
}

func NewEventHook(w io.Writer) *EventHook {
	return &EventHook{w: w}
}

func (h *EventHook) emit(e protocol.Event) {
	data, err := protocol.MarshalEvent(e)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.w, string(data))
}

func (h *EventHook) OnStepStart(_ context.Context, st *engine.State) {
	if !h.started {
		h.started = true
		h.emit(protocol.NewStartedEvent(st.SessionID, st.Mission, ""))
	}
	h.emit(protocol.NewStepStartEvent(st.SessionID, st.Iteration))
}

func (h *EventHook) OnToolCall(_ context.Context, st *engine.State, c engine.ToolCall) {
	h.emit(protocol.NewToolCallEvent(st.SessionID, c.Name, c.Args))
}

func (h *EventHook) OnToolResult(_ context.Context, st *engine.State, c engine.ToolCall, result string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	h.emit(protocol.NewToolResultEvent(st.SessionID, c.Name, err == nil, result, errMsg))
}

func (h *EventHook) OnPlanUpdated(_ context.Context, st *engine.State, p *plan.Plan) {
	h.emit(protocol.NewPlanUpdatedEvent(st.SessionID, p.ID, p.FormatForPrompt()))
}

func (h *EventHook) OnStreamDelta(_ context.Context, st *engine.State, delta string) {
	h.emit(protocol.NewLLMTokenEvent(st.SessionID, delta))
}

func (h *EventHook) OnAskUser(_ context.Context, st *engine.State, question string, options []string) {
	h.emit(protocol.NewAskUserEvent(st.SessionID, question, options))
}

func (h *EventHook) OnRetryExhausted(_ context.Context, st *engine.State, err error) {
	h.emit(protocol.NewErrorEvent(st.SessionID, err.Error(), "llm_retry_exhausted"))
}

func (h *EventHook) OnDone(_ context.Context, st *engine.State) {
	if st.FinalMessage != "" {
		h.emit(protocol.NewFinalAnswerEvent(st.SessionID, st.FinalMessage, string(st.Status)))
	}
	h.emit(protocol.NewCompleteEvent(st.SessionID, string(st.Status)))
}
