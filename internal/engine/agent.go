// Package engine provides the mission execution loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rudi77/taskforce/internal/plan"
	"github.com/rudi77/taskforce/internal/prompts"
	"github.com/rudi77/taskforce/internal/toolexec"
)

// Config holds the engine knobs.
type Config struct {
	Model             string
	Temperature       float32
	Stream            bool
	Budget            BudgetConfig
	Retry             RetryPolicy
	MaxIterations     int
	MaxReplansPerTask int
}

// DefaultConfig returns the default engine configuration for a model.
func DefaultConfig(model string) Config {
	return Config{
		Model:             model,
		Temperature:       0.2,
		Budget:            DefaultBudgetConfig(),
		Retry:             DefaultRetryPolicy(),
		MaxIterations:     50,
		MaxReplansPerTask: 3,
	}
}

// MissionResult is the outcome of one Execute call. Status is always
// one of completed, failed, or paused, and Message is user-facing
// prose, never raw JSON.
type MissionResult struct {
	SessionID string        `json:"session_id"`
	PlanID    string        `json:"plan_id,omitempty"`
	Status    MissionStatus `json:"status"`
	Message   string        `json:"message"`
}

// Agent runs missions: it plans, reasons step by step, invokes tools,
// and persists enough state after every mutation to survive a restart.
type Agent struct {
	llm       LLMClient
	cfg       Config
	adapter   *toolexec.Adapter
	generator PlanGenerator
	replanner Replanner
	states    StateStore
	plans     PlanStore
	ctxmgr    *ContextManager
	hooks     Hooks
}

// NewAgent wires an agent from its collaborators. artifacts may be nil.
func NewAgent(llm LLMClient, cfg Config, adapter *toolexec.Adapter, generator PlanGenerator, replanner Replanner, states StateStore, plans PlanStore, artifacts ArtifactStore, hooks ...Hook) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxReplansPerTask <= 0 {
		cfg.MaxReplansPerTask = 3
	}
	return &Agent{
		llm:       llm,
		cfg:       cfg,
		adapter:   adapter,
		generator: generator,
		replanner: replanner,
		states:    states,
		plans:     plans,
		ctxmgr:    NewContextManager(llm, cfg.Model, cfg.Budget, artifacts),
		hooks:     Hooks(hooks),
	}
}

// Execute runs one inbound turn for a session. A new session starts a
// mission; a session paused on a question treats input as the answer
// and resumes from the interruption point.
func (a *Agent) Execute(ctx context.Context, sessionID, input string) (MissionResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	st, err := a.states.LoadState(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		st = &SessionState{SessionID: sessionID, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return MissionResult{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if st.Paused() {
		return a.resume(ctx, st, input)
	}
	return a.start(ctx, st, input)
}

func (a *Agent) start(ctx context.Context, st *SessionState, mission string) (MissionResult, error) {
	st.Mission = mission

	var p *plan.Plan
	if st.PlanID != "" {
		existing, err := a.plans.LoadPlan(ctx, st.PlanID)
		if err == nil && !existing.IsTerminal() {
			p = existing
		}
		// A terminal plan means a fresh mission: the old plan is
		// abandoned, never reused.
	}

	if p == nil {
		generated, err := a.generator.GeneratePlan(ctx, mission, a.adapter.Registry().CatalogText(), st.Answers)
		if err != nil {
			return a.finish(ctx, st, nil, MissionFailed,
				"I could not create a plan for this mission. Please try rephrasing it.")
		}
		p = generated
		if len(p.Items) == 0 {
			p.Items = append(p.Items, plan.Task{
				Position:           1,
				Description:        "Produce a valid plan for the mission and carry it out",
				AcceptanceCriteria: "The mission's request is answered",
				Status:             plan.StatusPending,
				MaxAttempts:        plan.DefaultMaxAttempts,
			})
		}
		st.PlanID = p.ID
		st.History = []ChatMessage{{Role: RoleUser, Content: mission}}
		if err := a.plans.SavePlan(ctx, p); err != nil {
			return MissionResult{}, fmt.Errorf("save plan: %w", err)
		}
	}

	es := &State{
		SessionID: st.SessionID,
		Mission:   st.Mission,
		History:   st.History,
		Status:    MissionRunning,
	}
	a.hooks.OnPlanUpdated(ctx, es, p)

	// A plan generated with unresolved questions pauses for the first
	// one before any task runs.
	if len(p.OpenQuestions) > 0 {
		question := p.OpenQuestions[0]
		p.OpenQuestions = p.OpenQuestions[1:]
		if err := a.plans.SavePlan(ctx, p); err != nil {
			return MissionResult{}, fmt.Errorf("save plan: %w", err)
		}
		return a.pause(ctx, st, es, 0, 0, question, nil)
	}

	return a.runLoop(ctx, st, es, p, 0)
}

func (a *Agent) resume(ctx context.Context, st *SessionState, answer string) (MissionResult, error) {
	st.Answers = append(st.Answers, QA{Question: st.PendingQuestion, Answer: answer})

	history := append([]ChatMessage{}, st.PausedMessages...)
	history = append(history, ChatMessage{
		Role:    RoleTool,
		Name:    st.PausedToolCallID,
		Content: prompts.AnswerNote(answer),
	})

	iteration := st.PausedIteration
	st.History = history
	st.PendingQuestion = ""
	st.PendingOptions = nil
	st.PausedMessages = nil
	st.PausedToolCallID = ""
	st.PausedTaskPosition = 0
	st.PausedIteration = 0
	st.Status = string(MissionRunning)
	if err := a.saveState(ctx, st); err != nil {
		return MissionResult{}, err
	}

	p, err := a.plans.LoadPlan(ctx, st.PlanID)
	if err != nil {
		return a.finish(ctx, st, nil, MissionFailed,
			"I could not restore the paused mission. Please start it again.")
	}

	es := &State{
		SessionID: st.SessionID,
		Mission:   st.Mission,
		History:   history,
		Iteration: iteration,
		Status:    MissionRunning,
	}
	return a.runLoop(ctx, st, es, p, iteration)
}

func (a *Agent) runLoop(ctx context.Context, st *SessionState, es *State, p *plan.Plan, startIteration int) (MissionResult, error) {
	for es.Iteration = startIteration; es.Iteration < a.cfg.MaxIterations; es.Iteration++ {
		if err := ctx.Err(); err != nil {
			return MissionResult{}, err
		}

		if p.IsComplete() {
			return a.finish(ctx, st, p, MissionCompleted, AssembleFinalMessage(p))
		}

		task := p.NextActionable()
		if task == nil {
			return a.finish(ctx, st, p, MissionFailed,
				"I stopped with incomplete tasks: some steps failed and no recovery was possible.")
		}

		a.hooks.OnStepStart(ctx, es)
		task.Status = plan.StatusInProgress

		system := prompts.MissionSystem(
			st.Mission,
			p.FormatForPrompt(),
			fmt.Sprintf("%d. %s (done when: %s)", task.Position, task.Description, task.AcceptanceCriteria),
			a.adapter.Registry().CatalogText(),
			renderAnswers(st.Answers),
		)
		msgs := append([]ChatMessage{{Role: RoleSystem, Content: system}}, es.History...)

		prepared, _, err := a.ctxmgr.Prepare(ctx, es, msgs, a.hooks)
		if err != nil {
			return a.finish(ctx, st, p, MissionFailed,
				"The conversation grew too large to continue. Please start a new mission.")
		}

		a.hooks.OnBeforeLLM(ctx, es, prepared, nil)
		resp, err := RetryLLMCall(ctx, a.cfg.Retry,
			func(attempt, max int, delay time.Duration, cause error) {
				a.hooks.OnRetryAttempt(ctx, es, attempt, max, delay, cause)
			},
			func(ctx context.Context) (LLMResponse, error) {
				return a.chat(ctx, es, prepared)
			})
		if err != nil {
			if ctx.Err() != nil {
				return MissionResult{}, ctx.Err()
			}
			a.hooks.OnRetryExhausted(ctx, es, err)
			return a.finish(ctx, st, p, MissionFailed,
				"The language model is unavailable right now. Please try again later.")
		}
		es.AddUsage(resp.Usage)
		a.hooks.OnAfterLLM(ctx, es, resp)

		action, perr := ParseAction(resp.Assistant.Content)
		if errors.Is(perr, ErrUnparsableResponse) {
			// An unparsable reply never decides a task. Feed the
			// format error back and retry the step on the next
			// iteration; the iteration cap bounds repeats.
			task.Status = plan.StatusPending
			es.AppendMessage(ChatMessage{Role: RoleAssistant, Content: resp.Assistant.Content})
			es.AppendMessage(ChatMessage{Role: RoleUser, Content: prompts.InvalidActionNote()})
			action = Action{}
		}

		switch action.Type {
		case ActionToolCall:
			a.execToolCall(ctx, st, es, task, action, resp.Assistant.Content)

		case ActionAskUser:
			question := action.Question
			if question == "" {
				question = "I need more information to continue. Could you clarify the mission?"
			}
			callID := uuid.NewString()
			es.AppendMessage(ChatMessage{
				Role:    RoleAssistant,
				Content: resp.Assistant.Content,
				ToolCalls: []ToolCall{{
					ID:   callID,
					Name: "ask_user",
					Args: map[string]any{"question": question},
				}},
			})
			task.Status = plan.StatusPending
			if err := a.plans.SavePlan(ctx, p); err != nil {
				return MissionResult{}, fmt.Errorf("save plan: %w", err)
			}
			return a.pause(ctx, st, es, task.Position, es.Iteration+1, question, action.Options)

		case ActionRespond, ActionFinishStep:
			task.Status = plan.StatusCompleted
			task.ExecutionResult = &plan.Result{
				Success: true,
				Output:  map[string]any{"summary": action.Summary},
			}
			es.AppendMessage(ChatMessage{Role: RoleAssistant, Content: resp.Assistant.Content})

		case ActionComplete:
			task.Status = plan.StatusCompleted
			task.ExecutionResult = &plan.Result{
				Success: true,
				Output:  map[string]any{"summary": action.Summary},
			}
			for i := range p.Items {
				if p.Items[i].Status == plan.StatusPending {
					p.Items[i].Status = plan.StatusSkipped
				}
			}
			message := action.Summary
			if message == "" {
				message = AssembleFinalMessage(p)
			}
			es.AppendMessage(ChatMessage{Role: RoleAssistant, Content: resp.Assistant.Content})
			st.History = es.History
			return a.finish(ctx, st, p, MissionCompleted, message)

		case ActionReplan:
			// A replan does not consume a task attempt.
			task.Status = plan.StatusFailed
			if task.ReplanCount >= a.cfg.MaxReplansPerTask {
				task.Status = plan.StatusSkipped
			} else if _, err := a.replanner.Replan(ctx, p, task.Position); err != nil {
				return MissionResult{}, err
			}
			es.AppendMessage(ChatMessage{Role: RoleAssistant, Content: resp.Assistant.Content})
			a.hooks.OnPlanUpdated(ctx, es, p)
		}

		// Persist before the next iteration starts.
		st.History = es.History
		if err := a.plans.SavePlan(ctx, p); err != nil {
			return MissionResult{}, fmt.Errorf("save plan: %w", err)
		}
		if err := a.saveState(ctx, st); err != nil {
			return MissionResult{}, err
		}
	}

	return a.finish(ctx, st, p, MissionFailed,
		"I exceeded the maximum number of iterations before completing the mission.")
}

// chat performs one model call. With streaming enabled the text deltas
// fan out through the hooks as they arrive and the assembled response
// is returned once the stream ends.
func (a *Agent) chat(ctx context.Context, es *State, msgs []ChatMessage) (LLMResponse, error) {
	opts := ChatOptions{Temperature: a.cfg.Temperature}
	if !a.cfg.Stream {
		return a.llm.Chat(ctx, a.cfg.Model, msgs, nil, opts)
	}

	opts.Stream = true
	events, errs := a.llm.Stream(ctx, a.cfg.Model, msgs, nil, opts)

	var resp LLMResponse
	var content strings.Builder
	for ev := range events {
		switch ev.Type {
		case "text_delta":
			content.WriteString(ev.Text)
			a.hooks.OnStreamDelta(ctx, es, ev.Text)
		case "tool_call":
			resp.ToolCalls = append(resp.ToolCalls, ev.ToolCall)
		case "usage":
			resp.Usage = ev.Usage
		}
	}
	if err := <-errs; err != nil {
		return LLMResponse{}, err
	}

	resp.Assistant = ChatMessage{Role: RoleAssistant, Content: content.String(), ToolCalls: resp.ToolCalls}
	resp.FinishReason = "stop"
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

// execToolCall dispatches the action's tool requests and folds the
// observations into the task and the conversation. A single reasoning
// step may carry several independent calls; the adapter runs them and
// returns observations in request order. Tool success alone never
// completes the task; the model must follow up with an explicit
// RESPOND. A failure sends the task back to pending until its attempt
// budget runs out.
func (a *Agent) execToolCall(ctx context.Context, st *SessionState, es *State, task *plan.Task, action Action, assistantText string) {
	requests := action.Requests()
	calls := make([]toolexec.Call, len(requests))
	tcs := make([]ToolCall, len(requests))
	for i, req := range requests {
		id := uuid.NewString()
		calls[i] = toolexec.Call{ID: id, Name: req.Tool, Args: req.ToolInput}
		tcs[i] = ToolCall{ID: id, Name: req.Tool, Args: req.ToolInput}
		a.hooks.OnToolCall(ctx, es, tcs[i])
	}

	observations := a.adapter.Dispatch(ctx, calls)

	allOK := true
	firstErr := ""
	for _, obs := range observations {
		if !obs.Success {
			allOK = false
			if firstErr == "" {
				firstErr = obs.Error
			}
		}
	}

	task.ChosenTool = requests[0].Tool
	task.ToolInput = requests[0].ToolInput
	if len(observations) == 1 {
		obs := observations[0]
		task.ExecutionResult = &plan.Result{Success: obs.Success, Output: obs.Output, Error: obs.Error}
	} else {
		outputs := make([]any, len(observations))
		for i, obs := range observations {
			outputs[i] = obs.Output
		}
		task.ExecutionResult = &plan.Result{Success: allOK, Output: outputs, Error: firstErr}
	}
	task.RecordAttempt(joinToolNames(requests), allOK, firstErr)
	if allOK || !task.RetryExhausted() {
		task.Status = plan.StatusPending
	} else {
		task.Status = plan.StatusFailed
	}

	es.AppendMessage(ChatMessage{
		Role:      RoleAssistant,
		Content:   assistantText,
		ToolCalls: tcs,
	})
	for i, obs := range observations {
		rendered := a.ctxmgr.StoreResult(ctx, st.SessionID, renderObservation(obs))
		var obsErr error
		if !obs.Success {
			obsErr = errors.New(obs.Error)
		}
		a.hooks.OnToolResult(ctx, es, tcs[i], rendered, obsErr)
		es.AppendMessage(ChatMessage{Role: RoleTool, Name: tcs[i].ID, Content: rendered})
	}
}

func joinToolNames(requests []ToolRequest) string {
	names := make([]string, len(requests))
	for i, req := range requests {
		names[i] = req.Tool
	}
	return strings.Join(names, ",")
}

// pause persists everything needed to continue from this exact point
// and returns the question as the user-facing message.
func (a *Agent) pause(ctx context.Context, st *SessionState, es *State, taskPosition, iteration int, question string, options []string) (MissionResult, error) {
	callID := ""
	if n := len(es.History); n > 0 {
		last := es.History[n-1]
		if last.Role == RoleAssistant && len(last.ToolCalls) > 0 {
			callID = last.ToolCalls[0].ID
		}
	}
	if callID == "" {
		// Clarification pause before any assistant turn exists: mint
		// the tool call the answer will pair with.
		callID = uuid.NewString()
		es.AppendMessage(ChatMessage{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID:   callID,
				Name: "ask_user",
				Args: map[string]any{"question": question},
			}},
		})
	}

	st.History = es.History
	st.PendingQuestion = question
	st.PendingOptions = options
	st.PausedMessages = es.History
	st.PausedToolCallID = callID
	st.PausedTaskPosition = taskPosition
	st.PausedIteration = iteration
	st.Status = string(MissionPaused)
	if err := a.saveState(ctx, st); err != nil {
		return MissionResult{}, err
	}

	es.Status = MissionPaused
	es.FinalMessage = question
	a.hooks.OnAskUser(ctx, es, question, options)
	a.hooks.OnDone(ctx, es)

	return MissionResult{
		SessionID: st.SessionID,
		PlanID:    st.PlanID,
		Status:    MissionPaused,
		Message:   question,
	}, nil
}

// finish records a terminal status and returns the result.
func (a *Agent) finish(ctx context.Context, st *SessionState, p *plan.Plan, status MissionStatus, message string) (MissionResult, error) {
	st.Status = string(status)
	if p != nil {
		if err := a.plans.SavePlan(ctx, p); err != nil {
			return MissionResult{}, fmt.Errorf("save plan: %w", err)
		}
	}
	if err := a.saveState(ctx, st); err != nil {
		return MissionResult{}, err
	}

	es := &State{SessionID: st.SessionID, Mission: st.Mission, Status: status, FinalMessage: message}
	a.hooks.OnDone(ctx, es)

	return MissionResult{
		SessionID: st.SessionID,
		PlanID:    st.PlanID,
		Status:    status,
		Message:   message,
	}, nil
}

func (a *Agent) saveState(ctx context.Context, st *SessionState) error {
	st.UpdatedAt = time.Now().UTC()
	if err := a.states.SaveState(ctx, st); err != nil {
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	return nil
}

// renderObservation serializes a tool observation for the message log.
func renderObservation(obs toolexec.Observation) string {
	b, err := json.Marshal(obs)
	if err != nil {
		return fmt.Sprintf(`{"success":%t,"error":"unserializable output"}`, obs.Success)
	}
	return string(b)
}

func renderAnswers(answers []QA) []string {
	out := make([]string, 0, len(answers))
	for _, qa := range answers {
		out = append(out, fmt.Sprintf("Q: %s A: %s", qa.Question, qa.Answer))
	}
	return out
}
