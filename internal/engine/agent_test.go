package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rudi77/taskforce/internal/plan"
	"github.com/rudi77/taskforce/internal/toolexec"
)

// memStore is an in-memory StateStore + PlanStore + ArtifactStore.
type memStore struct {
	states    map[string]SessionState
	plans     map[string]plan.Plan
	artifacts map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		states:    map[string]SessionState{},
		plans:     map[string]plan.Plan{},
		artifacts: map[string]string{},
	}
}

func (m *memStore) LoadState(ctx context.Context, sessionID string) (*SessionState, error) {
	st, ok := m.states[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := st
	return &cp, nil
}

func (m *memStore) SaveState(ctx context.Context, st *SessionState) error {
	m.states[st.SessionID] = *st
	return nil
}

func (m *memStore) ListSessions(ctx context.Context) ([]SessionState, error) {
	var out []SessionState
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	delete(m.states, sessionID)
	return nil
}

func (m *memStore) LoadPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	p, ok := m.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := p
	cp.Items = append([]plan.Task(nil), p.Items...)
	return &cp, nil
}

func (m *memStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	cp := *p
	cp.Items = append([]plan.Task(nil), p.Items...)
	m.plans[p.ID] = cp
	return nil
}

func (m *memStore) PutArtifact(ctx context.Context, sessionID, content string) (string, error) {
	handle := fmt.Sprintf("art_%d", len(m.artifacts)+1)
	m.artifacts[handle] = content
	return handle, nil
}

func (m *memStore) GetArtifact(ctx context.Context, handle string) (string, error) {
	c, ok := m.artifacts[handle]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return c, nil
}

// fakeGenerator returns a fixed plan (copied per call).
type fakeGenerator struct {
	items []plan.Task
	err   error
}

func (f *fakeGenerator) GeneratePlan(ctx context.Context, mission, toolCatalog string, answers []QA) (*plan.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := plan.New(mission)
	p.Items = append([]plan.Task(nil), f.items...)
	return p, nil
}

// fakeReplanner always skips and counts invocations.
type fakeReplanner struct{ calls int }

func (f *fakeReplanner) Replan(ctx context.Context, p *plan.Plan, position int) (string, error) {
	f.calls++
	t := p.Get(position)
	if t == nil {
		return "", fmt.Errorf("no task at %d", position)
	}
	t.Status = plan.StatusSkipped
	return "SKIP", nil
}

func testRegistry() toolexec.Registry {
	reg := make(toolexec.Registry)
	reg["echo"] = toolexec.Tool{
		Name:     "echo",
		Parallel: true,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"summary": fmt.Sprintf("echo: %v", args["text"])}, nil
		},
	}
	reg["boom"] = toolexec.Tool{
		Name: "boom",
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("boom failed")
		},
	}
	return reg
}

func pendingTask(pos int, desc string, deps ...int) plan.Task {
	return plan.Task{
		Position:     pos,
		Description:  desc,
		Dependencies: deps,
		Status:       plan.StatusPending,
		MaxAttempts:  plan.DefaultMaxAttempts,
	}
}

func newTestAgent(llm LLMClient, gen PlanGenerator, rep Replanner, store *memStore) *Agent {
	cfg := DefaultConfig("test-model")
	cfg.Retry = fastPolicy()
	return NewAgent(llm, cfg, toolexec.NewAdapter(testRegistry()), gen, rep, store, store, store)
}

func TestMissionSimpleRespond(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "RESPOND", "summary": "Paris is the capital of France."}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "answer the question")}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "", "What is the capital of France?")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if res.Message != "Paris is the capital of France." {
		t.Errorf("message = %q", res.Message)
	}
	if res.SessionID == "" {
		t.Error("no session id assigned")
	}
}

func TestToolSuccessDoesNotCompleteTask(t *testing.T) {
	// A successful tool call must leave the task pending until the
	// model sends an explicit RESPOND. The pause after the tool call
	// lets us inspect the persisted status mid-mission.
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool": "echo", "tool_input": {"text": "hi"}}`),
		textResponse(`{"action": "ASK_USER", "question": "Keep going?"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "do the thing")}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-p7", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionPaused {
		t.Fatalf("status = %v, want paused", res.Status)
	}

	st := store.states["s-p7"]
	p := store.plans[st.PlanID]
	task := p.Items[0]
	if task.Status != plan.StatusPending {
		t.Errorf("task status after successful tool call = %v, want PENDING", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
	if task.ChosenTool != "echo" {
		t.Errorf("chosen tool = %q", task.ChosenTool)
	}
}

func TestMissionFailsWhenRetriesExhausted(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool": "boom", "tool_input": {}}`),
	}}
	items := []plan.Task{pendingTask(1, "doomed step")}
	items[0].MaxAttempts = 2
	gen := &fakeGenerator{items: items}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-retry", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if strings.Contains(res.Message, "{") {
		t.Errorf("failure message leaks raw data: %q", res.Message)
	}

	st := store.states["s-retry"]
	p := store.plans[st.PlanID]
	if p.Items[0].Status != plan.StatusFailed {
		t.Errorf("task status = %v, want FAILED", p.Items[0].Status)
	}
	if p.Items[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", p.Items[0].Attempts)
	}
}

func TestCompleteActionSkipsRemainingTasks(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "RESPOND", "summary": "step one done"}`),
		textResponse(`{"action": "COMPLETE", "summary": "everything needed is already done"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{
		pendingTask(1, "first"),
		pendingTask(2, "second", 1),
		pendingTask(3, "third", 2),
	}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-complete", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if res.Message != "everything needed is already done" {
		t.Errorf("message = %q", res.Message)
	}

	st := store.states["s-complete"]
	p := store.plans[st.PlanID]
	wantStatus := []plan.Status{plan.StatusCompleted, plan.StatusCompleted, plan.StatusSkipped}
	for i, want := range wantStatus {
		if p.Items[i].Status != want {
			t.Errorf("task %d status = %v, want %v", i+1, p.Items[i].Status, want)
		}
	}
}

func TestAskUserPausesAndResumes(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "ASK_USER", "question": "What is your name?"}`),
		textResponse(`{"action": "RESPOND", "summary": "Hello, Ada!"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "greet the user")}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-pause", "greet me")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionPaused {
		t.Fatalf("status = %v, want paused", res.Status)
	}
	if res.Message != "What is your name?" {
		t.Errorf("paused message = %q, want the exact question", res.Message)
	}

	paused := store.states["s-pause"]
	if !paused.Paused() {
		t.Fatal("session not marked paused")
	}
	if paused.PausedToolCallID == "" {
		t.Fatal("no tool call id saved for resume")
	}
	pausedLen := len(paused.PausedMessages)
	planID := paused.PlanID

	// Resume: the new input is the answer, not a new mission.
	res, err = agent.Execute(context.Background(), "s-pause", "Ada")
	if err != nil {
		t.Fatalf("resume Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("resumed status = %v, want completed", res.Status)
	}
	if res.Message != "Hello, Ada!" {
		t.Errorf("resumed message = %q", res.Message)
	}

	resumed := store.states["s-pause"]
	if resumed.PlanID != planID {
		t.Error("resume recreated the plan")
	}
	if resumed.Paused() {
		t.Error("pause markers not cleared")
	}

	// The restored history is the paused list plus exactly one tool
	// result carrying the answer, then the completing assistant turn.
	history := resumed.History
	if len(history) < pausedLen+1 {
		t.Fatalf("history too short: %d", len(history))
	}
	answerMsg := history[pausedLen]
	if answerMsg.Role != RoleTool {
		t.Errorf("answer message role = %v, want tool", answerMsg.Role)
	}
	if answerMsg.Name != paused.PausedToolCallID {
		t.Errorf("answer message pairs with %q, want %q", answerMsg.Name, paused.PausedToolCallID)
	}
	if !strings.Contains(answerMsg.Content, "Ada") {
		t.Errorf("answer content = %q, want it to contain Ada", answerMsg.Content)
	}
	for i := 0; i < pausedLen; i++ {
		if history[i].Content != paused.PausedMessages[i].Content {
			t.Errorf("paused message %d altered on resume", i)
		}
	}
	if len(resumed.Answers) != 1 || resumed.Answers[0].Answer != "Ada" {
		t.Errorf("answers = %+v", resumed.Answers)
	}
}

func TestEmptyPlanGetsRecoveryTask(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "RESPOND", "summary": "recovered"}`),
	}}
	gen := &fakeGenerator{} // zero items
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-empty", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}

	st := store.states["s-empty"]
	p := store.plans[st.PlanID]
	if len(p.Items) != 1 {
		t.Fatalf("recovery plan has %d tasks, want 1", len(p.Items))
	}
}

func TestPlanGenerationFailureFailsMission(t *testing.T) {
	store := newMemStore()
	gen := &fakeGenerator{err: fmt.Errorf("model returned garbage")}
	agent := newTestAgent(&scriptedLLM{}, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-genfail", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if strings.Contains(res.Message, "garbage") {
		t.Errorf("raw model error leaked to user: %q", res.Message)
	}
}

func TestReplanActionDelegatesAndContinues(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool": "boom", "tool_input": {}}`),
		textResponse(`{"action": "REPLAN"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "flaky step")}}
	rep := &fakeReplanner{}
	agent := newTestAgent(llm, gen, rep, store)

	res, err := agent.Execute(context.Background(), "s-replan", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.calls != 1 {
		t.Errorf("replanner called %d times, want 1", rep.calls)
	}
	// The skipped-only plan counts as complete.
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}

	st := store.states["s-replan"]
	p := store.plans[st.PlanID]
	if p.Items[0].Status != plan.StatusSkipped {
		t.Errorf("task status = %v, want SKIPPED", p.Items[0].Status)
	}
	// The replan itself must not consume a tool attempt.
	if p.Items[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (only the tool call)", p.Items[0].Attempts)
	}
}

func TestReplanCeilingForcesSkip(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "REPLAN"}`),
	}}
	items := []plan.Task{pendingTask(1, "over-replanned step")}
	items[0].ReplanCount = 3
	gen := &fakeGenerator{items: items}
	rep := &fakeReplanner{}
	agent := newTestAgent(llm, gen, rep, store)

	res, err := agent.Execute(context.Background(), "s-cap", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.calls != 0 {
		t.Errorf("replanner called %d times past the ceiling, want 0", rep.calls)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed (task force-skipped)", res.Status)
	}
}

func TestIterationCapFailsMission(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool": "echo", "tool_input": {"text": "loop"}}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "never finishes")}}

	cfg := DefaultConfig("test-model")
	cfg.Retry = fastPolicy()
	cfg.MaxIterations = 4
	agent := NewAgent(llm, cfg, toolexec.NewAdapter(testRegistry()), gen, &fakeReplanner{}, store, store, store)

	res, err := agent.Execute(context.Background(), "s-iter", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.Message, "iterations") {
		t.Errorf("message = %q, want an iteration cap explanation", res.Message)
	}
	if llm.calls != 4 {
		t.Errorf("llm calls = %d, want 4", llm.calls)
	}
}

func TestBatchToolCallsRunInRequestOrder(t *testing.T) {
	// One reasoning step may carry several independent tool requests.
	// All of them dispatch, each gets its own tool message in request
	// order, and together they consume a single task attempt.
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool_calls": [` +
			`{"tool": "echo", "tool_input": {"text": "one"}}, ` +
			`{"tool": "echo", "tool_input": {"text": "two"}}]}`),
		textResponse(`{"action": "ASK_USER", "question": "Keep going?"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "gather both halves")}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-batch", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionPaused {
		t.Fatalf("status = %v, want paused", res.Status)
	}

	st := store.states["s-batch"]
	p := store.plans[st.PlanID]
	if p.Items[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 for the whole batch", p.Items[0].Attempts)
	}

	var assistant *ChatMessage
	for i := range st.History {
		if st.History[i].Role == RoleAssistant && len(st.History[i].ToolCalls) > 0 {
			assistant = &st.History[i]
			break
		}
	}
	if assistant == nil {
		t.Fatal("no assistant message with tool calls in history")
	}
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("assistant carries %d tool calls, want 2", len(assistant.ToolCalls))
	}

	var toolMsgs []ChatMessage
	for _, msg := range st.History {
		if msg.Role == RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("history has %d tool messages, want 2", len(toolMsgs))
	}
	for i, want := range []string{"echo: one", "echo: two"} {
		if toolMsgs[i].Name != assistant.ToolCalls[i].ID {
			t.Errorf("tool message %d pairs with %q, want %q", i, toolMsgs[i].Name, assistant.ToolCalls[i].ID)
		}
		if !strings.Contains(toolMsgs[i].Content, want) {
			t.Errorf("tool message %d = %q, want it to contain %q", i, toolMsgs[i].Content, want)
		}
	}
}

func TestFailedToolRetriesBeforeOtherTasks(t *testing.T) {
	// A failed tool call with attempt budget left sends the task back
	// to pending, so the very next iteration retries it instead of
	// moving on to an independent task.
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "TOOL_CALL", "tool": "boom", "tool_input": {}}`),
		textResponse(`{"action": "RESPOND", "summary": "recovered the flaky step"}`),
		textResponse(`{"action": "RESPOND", "summary": "independent step done"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{
		pendingTask(1, "flaky step"),
		pendingTask(2, "independent step"),
	}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-flaky", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}

	st := store.states["s-flaky"]
	p := store.plans[st.PlanID]
	flaky := p.Items[0]
	if flaky.Status != plan.StatusCompleted {
		t.Fatalf("flaky task status = %v, want COMPLETED", flaky.Status)
	}
	if flaky.Attempts != 1 {
		t.Errorf("flaky task attempts = %d, want 1", flaky.Attempts)
	}
	// The second scripted response closed the flaky task; had the
	// failure marked it FAILED, the independent task would have run
	// first and taken that summary instead.
	out, _ := flaky.ExecutionResult.Output.(map[string]any)
	if out["summary"] != "recovered the flaky step" {
		t.Errorf("flaky task result = %v, want the retry's summary", flaky.ExecutionResult.Output)
	}
	indep := p.Items[1]
	out, _ = indep.ExecutionResult.Output.(map[string]any)
	if out["summary"] != "independent step done" {
		t.Errorf("independent task result = %v", indep.ExecutionResult.Output)
	}
}

func TestUnparsableReplyNeverCompletesTask(t *testing.T) {
	// Prose that matches no action shape is fed back as a format
	// correction; the task runs again and only a real decision ends it.
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`I think we should look into this a bit more before deciding.`),
		textResponse(`{"action": "RESPOND", "summary": "checked and confirmed"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "check the facts")}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-garbled", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if res.Message != "checked and confirmed" {
		t.Errorf("message = %q, want the second reply's summary", res.Message)
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls)
	}

	st := store.states["s-garbled"]
	p := store.plans[st.PlanID]
	out, _ := p.Items[0].ExecutionResult.Output.(map[string]any)
	if s, _ := out["summary"].(string); strings.Contains(s, "internal error") {
		t.Errorf("task completed with placeholder text: %q", s)
	}

	// The correction note follows the garbled turn in the history.
	noteSeen := false
	for _, msg := range st.History {
		if msg.Role == RoleUser && strings.Contains(msg.Content, "did not match the required format") {
			noteSeen = true
		}
	}
	if !noteSeen {
		t.Error("no format correction fed back to the model")
	}
}

// streamingLLM serves scripted responses through the streaming
// interface in fixed-size chunks. Its blocking entry point reports an
// error so a test fails loudly if streaming mode falls back to it.
type streamingLLM struct {
	responses []LLMResponse
	calls     int
	chatCalls int
}

func (s *streamingLLM) Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error) {
	s.chatCalls++
	return LLMResponse{}, fmt.Errorf("blocking chat called on a streaming client")
}

func (s *streamingLLM) Stream(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (<-chan StreamEvent, <-chan error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	content := s.responses[i].Assistant.Content

	eventCh := make(chan StreamEvent, len(content)/8+2)
	errCh := make(chan error, 1)
	for len(content) > 0 {
		n := 8
		if n > len(content) {
			n = len(content)
		}
		eventCh <- StreamEvent{Type: "text_delta", Text: content[:n]}
		content = content[n:]
	}
	eventCh <- StreamEvent{Type: "usage", Usage: Usage{Prompt: 12, Completion: 6, Total: 18}}
	close(eventCh)
	close(errCh)
	return eventCh, errCh
}

type deltaHook struct {
	NopHook
	deltas []string
}

func (h *deltaHook) OnStreamDelta(_ context.Context, _ *State, delta string) {
	h.deltas = append(h.deltas, delta)
}

func TestStreamingModeEmitsDeltas(t *testing.T) {
	reply := `{"action": "RESPOND", "summary": "streamed all the way"}`
	store := newMemStore()
	llm := &streamingLLM{responses: []LLMResponse{textResponse(reply)}}
	gen := &fakeGenerator{items: []plan.Task{pendingTask(1, "answer")}}
	hook := &deltaHook{}

	cfg := DefaultConfig("test-model")
	cfg.Retry = fastPolicy()
	cfg.Stream = true
	agent := NewAgent(llm, cfg, toolexec.NewAdapter(testRegistry()), gen, &fakeReplanner{}, store, store, store, hook)

	res, err := agent.Execute(context.Background(), "s-stream", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if res.Message != "streamed all the way" {
		t.Errorf("message = %q", res.Message)
	}
	if llm.chatCalls != 0 {
		t.Errorf("blocking chat called %d times in streaming mode", llm.chatCalls)
	}
	if len(hook.deltas) < 2 {
		t.Fatalf("got %d deltas, want the reply in several chunks", len(hook.deltas))
	}
	if got := strings.Join(hook.deltas, ""); got != reply {
		t.Errorf("joined deltas = %q, want the full reply", got)
	}
}

func TestMultiStepFinalMessageHasStepHeaders(t *testing.T) {
	store := newMemStore()
	llm := &scriptedLLM{responses: []LLMResponse{
		textResponse(`{"action": "RESPOND", "summary": "gathered the data"}`),
		textResponse(`{"action": "RESPOND", "summary": "wrote the report"}`),
	}}
	gen := &fakeGenerator{items: []plan.Task{
		pendingTask(1, "gather"),
		pendingTask(2, "report", 1),
	}}
	agent := newTestAgent(llm, gen, &fakeReplanner{}, store)

	res, err := agent.Execute(context.Background(), "s-multi", "mission")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != MissionCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	if !strings.Contains(res.Message, "Step 1: gathered the data") ||
		!strings.Contains(res.Message, "Step 2: wrote the report") {
		t.Errorf("final message = %q", res.Message)
	}
}
