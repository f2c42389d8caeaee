package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
)

type cannedLLM struct {
	content string
	calls   int
}

func (c *cannedLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	c.calls++
	return engine.LLMResponse{
		Assistant: engine.ChatMessage{Role: engine.RoleAssistant, Content: c.content},
	}, nil
}

func (c *cannedLLM) Stream(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent)
	errCh := make(chan error, 1)
	close(eventCh)
	errCh <- fmt.Errorf("streaming not supported in tests")
	close(errCh)
	return eventCh, errCh
}

func TestGeneratePlanParsesItems(t *testing.T) {
	llm := &cannedLLM{content: `{
		"items": [
			{"description": "collect inputs", "acceptance_criteria": "all files listed", "dependencies": []},
			{"description": "produce report", "acceptance_criteria": "report written", "dependencies": [1]}
		],
		"open_questions": []
	}`}
	g := NewGenerator(llm, "test-model")

	p, err := g.GeneratePlan(context.Background(), "write a report", "- read_file: reads", nil)
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(p.Items))
	}
	if p.Items[0].Position != 1 || p.Items[1].Position != 2 {
		t.Errorf("positions = %d, %d; want 1, 2", p.Items[0].Position, p.Items[1].Position)
	}
	if got := p.Items[1].Dependencies; len(got) != 1 || got[0] != 1 {
		t.Errorf("dependencies = %v, want [1]", got)
	}
	for i, item := range p.Items {
		if item.Status != plan.StatusPending {
			t.Errorf("item %d status = %v, want PENDING", i+1, item.Status)
		}
		if item.MaxAttempts != plan.DefaultMaxAttempts {
			t.Errorf("item %d max attempts = %d", i+1, item.MaxAttempts)
		}
	}
}

func TestGeneratePlanStripsMarkdownFences(t *testing.T) {
	llm := &cannedLLM{content: "Here is the plan:\n```json\n" +
		`{"items": [{"description": "do it", "acceptance_criteria": "done", "dependencies": []}]}` +
		"\n```"}
	g := NewGenerator(llm, "test-model")

	p, err := g.GeneratePlan(context.Background(), "m", "", nil)
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].Description != "do it" {
		t.Errorf("plan = %+v", p.Items)
	}
}

func TestGeneratePlanCarriesOpenQuestions(t *testing.T) {
	llm := &cannedLLM{content: `{"items": [{"description": "book travel", "acceptance_criteria": "booked", "dependencies": []}], "open_questions": ["What is the destination?"]}`}
	g := NewGenerator(llm, "test-model")

	p, err := g.GeneratePlan(context.Background(), "book my trip", "", nil)
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if len(p.OpenQuestions) != 1 || p.OpenQuestions[0] != "What is the destination?" {
		t.Errorf("open questions = %v", p.OpenQuestions)
	}
}

func TestGeneratePlanRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"prose only", "I cannot produce a plan for that."},
		{"broken json", `{"items": [{"description": }`},
		{"item without description", `{"items": [{"description": "  ", "dependencies": []}]}`},
		{"bad dependency reference", `{"items": [{"description": "a", "dependencies": [9]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&cannedLLM{content: tt.content}, "test-model")
			_, err := g.GeneratePlan(context.Background(), "m", "", nil)
			if !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestGeneratePlanAllowsEmptyItems(t *testing.T) {
	// An explicit empty list is valid output; the caller decides how to
	// recover from it.
	g := NewGenerator(&cannedLLM{content: `{"items": []}`}, "test-model")
	p, err := g.GeneratePlan(context.Background(), "m", "", nil)
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if len(p.Items) != 0 {
		t.Errorf("items = %v, want none", p.Items)
	}
}

func failingPlan() *plan.Plan {
	p := plan.New("m")
	p.Items = []plan.Task{
		{
			Position:    1,
			Description: "flaky step",
			Status:      plan.StatusFailed,
			ChosenTool:  "old_tool",
			Attempts:    2,
			MaxAttempts: 3,
			ExecutionResult: &plan.Result{
				Success: false,
				Error:   "old_tool crashed",
			},
		},
		{
			Position:     2,
			Description:  "downstream step",
			Dependencies: []int{1},
			Status:       plan.StatusPending,
			MaxAttempts:  3,
		},
	}
	return p
}

func TestReplanRetryWithParams(t *testing.T) {
	llm := &cannedLLM{content: `{"strategy": "RETRY_WITH_PARAMS", "tool_input": {"path": "/tmp/other"}}`}
	r := NewReplanner(llm, "test-model")
	p := failingPlan()

	strategy, err := r.Replan(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Replan() error = %v", err)
	}
	if strategy != StrategyRetryWithParams {
		t.Errorf("strategy = %q", strategy)
	}
	task := p.Get(1)
	if task.Status != plan.StatusPending {
		t.Errorf("status = %v, want PENDING", task.Status)
	}
	if task.ToolInput["path"] != "/tmp/other" {
		t.Errorf("tool input = %v", task.ToolInput)
	}
	if task.ReplanCount != 1 {
		t.Errorf("replan count = %d, want 1", task.ReplanCount)
	}
}

func TestReplanSwapTool(t *testing.T) {
	llm := &cannedLLM{content: `{"strategy": "SWAP_TOOL", "tool": "new_tool", "tool_input": {"q": "x"}}`}
	r := NewReplanner(llm, "test-model")
	p := failingPlan()

	strategy, err := r.Replan(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Replan() error = %v", err)
	}
	if strategy != StrategySwapTool {
		t.Errorf("strategy = %q", strategy)
	}
	task := p.Get(1)
	if task.ChosenTool != "new_tool" || task.Status != plan.StatusPending {
		t.Errorf("task = %+v", task)
	}
}

func TestReplanSwapToolWithoutToolSkips(t *testing.T) {
	llm := &cannedLLM{content: `{"strategy": "SWAP_TOOL"}`}
	r := NewReplanner(llm, "test-model")
	p := failingPlan()

	strategy, err := r.Replan(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Replan() error = %v", err)
	}
	if strategy != StrategySkip {
		t.Errorf("strategy = %q, want SKIP", strategy)
	}
	if p.Get(1).Status != plan.StatusSkipped {
		t.Errorf("status = %v, want SKIPPED", p.Get(1).Status)
	}
}

func TestReplanDecompose(t *testing.T) {
	llm := &cannedLLM{content: `{
		"strategy": "DECOMPOSE_TASK",
		"subtasks": [
			{"description": "first half", "acceptance_criteria": "a"},
			{"description": "second half", "acceptance_criteria": "b"}
		]
	}`}
	r := NewReplanner(llm, "test-model")
	p := failingPlan()

	strategy, err := r.Replan(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Replan() error = %v", err)
	}
	if strategy != StrategyDecomposeTask {
		t.Errorf("strategy = %q", strategy)
	}
	if len(p.Items) != 3 {
		t.Fatalf("plan has %d items after decompose, want 3", len(p.Items))
	}
	if p.Items[0].Description != "first half" || p.Items[1].Description != "second half" {
		t.Errorf("subtasks = %q, %q", p.Items[0].Description, p.Items[1].Description)
	}
	// The dependent task moves to position 3 and now depends on the
	// last subtask.
	down := p.Get(3)
	if down == nil || down.Description != "downstream step" {
		t.Fatalf("downstream task not renumbered: %+v", p.Items)
	}
	if len(down.Dependencies) != 1 || down.Dependencies[0] != 2 {
		t.Errorf("downstream deps = %v, want [2]", down.Dependencies)
	}
	if p.Items[0].ReplanCount != 1 {
		t.Errorf("subtask replan count = %d, want 1", p.Items[0].ReplanCount)
	}
}

func TestReplanDecomposeWithoutSubtasksSkips(t *testing.T) {
	llm := &cannedLLM{content: `{"strategy": "DECOMPOSE_TASK", "subtasks": [{"description": " "}]}`}
	r := NewReplanner(llm, "test-model")
	p := failingPlan()

	strategy, err := r.Replan(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Replan() error = %v", err)
	}
	if strategy != StrategySkip {
		t.Errorf("strategy = %q, want SKIP", strategy)
	}
}

func TestReplanGarbageDegradesToSkip(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"prose", "let me think about this differently"},
		{"missing strategy", `{"tool": "x"}`},
		{"unknown strategy", `{"strategy": "REBOOT_UNIVERSE"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReplanner(&cannedLLM{content: tt.content}, "test-model")
			p := failingPlan()
			strategy, err := r.Replan(context.Background(), p, 1)
			if err != nil {
				t.Fatalf("Replan() error = %v", err)
			}
			if strategy != StrategySkip {
				t.Errorf("strategy = %q, want SKIP", strategy)
			}
			if p.Get(1).Status != plan.StatusSkipped {
				t.Errorf("status = %v, want SKIPPED", p.Get(1).Status)
			}
		})
	}
}

func TestReplanMissingTask(t *testing.T) {
	r := NewReplanner(&cannedLLM{content: `{"strategy": "SKIP"}`}, "test-model")
	p := plan.New("m")
	if _, err := r.Replan(context.Background(), p, 5); err == nil {
		t.Fatal("expected error for missing task")
	}
}
