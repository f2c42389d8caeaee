package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &engine.SessionState{
		SessionID: "sess-1",
		Mission:   "summarize the repo",
		PlanID:    "plan-1",
		Status:    "paused",
		History: []engine.ChatMessage{
			{Role: engine.RoleUser, Content: "summarize the repo"},
			{Role: engine.RoleAssistant, Content: "on it", ToolCalls: []engine.ToolCall{
				{ID: "call-1", Name: "ask_user", Args: map[string]any{"question": "which branch?"}},
			}},
		},
		Answers:          []engine.QA{{Question: "scope?", Answer: "src only"}},
		PendingQuestion:  "which branch?",
		PendingOptions:   []string{"main", "dev"},
		PausedToolCallID: "call-1",
		PausedIteration:  3,
		CreatedAt:        time.Now().UTC(),
	}
	st.PausedMessages = st.History

	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := s.LoadState(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.Mission != st.Mission || got.PlanID != st.PlanID {
		t.Errorf("loaded state = %+v", got)
	}
	if !got.Paused() {
		t.Error("pause markers lost in round trip")
	}
	if got.PendingQuestion != "which branch?" || got.PausedToolCallID != "call-1" {
		t.Errorf("pause fields = %q, %q", got.PendingQuestion, got.PausedToolCallID)
	}
	if got.PausedIteration != 3 {
		t.Errorf("paused iteration = %d", got.PausedIteration)
	}
	if len(got.History) != 2 || len(got.History[1].ToolCalls) != 1 {
		t.Errorf("history = %+v", got.History)
	}
	if got.History[1].ToolCalls[0].Args["question"] != "which branch?" {
		t.Errorf("tool call args = %v", got.History[1].ToolCalls[0].Args)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "src only" {
		t.Errorf("answers = %+v", got.Answers)
	}
}

func TestSaveStateUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &engine.SessionState{SessionID: "sess-up", Mission: "first", Status: "running"}
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.Status = "completed"
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadState(ctx, "sess-up")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("upsert created %d rows", len(all))
	}
}

func TestLoadStateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadState(context.Background(), "nope")
	if !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveState(ctx, &engine.SessionState{SessionID: id, Mission: "m-" + id}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(all))
	}

	if err := s.DeleteSession(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadState(ctx, "b"); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("deleted session still loads: %v", err)
	}
	all, err = s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("listed %d sessions after delete, want 2", len(all))
	}
}

func TestPlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := plan.New("ship the feature")
	p.Items = []plan.Task{
		{
			Position:           1,
			Description:        "write code",
			AcceptanceCriteria: "compiles",
			Status:             plan.StatusCompleted,
			ChosenTool:         "write_file",
			ToolInput:          map[string]any{"path": "main.go"},
			Attempts:           1,
			MaxAttempts:        3,
			ExecutionResult:    &plan.Result{Success: true, Output: map[string]any{"summary": "wrote it"}},
			ExecutionHistory:   []plan.AttemptRecord{{Tool: "write_file", Success: true, Attempt: 1}},
		},
		{
			Position:     2,
			Description:  "run checks",
			Dependencies: []int{1},
			Status:       plan.StatusPending,
			MaxAttempts:  3,
		},
	}

	if err := s.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	got, err := s.LoadPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}
	if got.Mission != p.Mission || len(got.Items) != 2 {
		t.Fatalf("loaded plan = %+v", got)
	}
	first := got.Get(1)
	if first.Status != plan.StatusCompleted || first.ChosenTool != "write_file" {
		t.Errorf("task 1 = %+v", first)
	}
	if len(first.ExecutionHistory) != 1 {
		t.Errorf("execution history lost: %+v", first.ExecutionHistory)
	}
	if got.Get(2).Dependencies[0] != 1 {
		t.Errorf("dependencies = %v", got.Get(2).Dependencies)
	}

	// Saving again must replace, not duplicate.
	got.Get(2).Status = plan.StatusCompleted
	if err := s.SavePlan(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, err := s.LoadPlan(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Get(2).Status != plan.StatusCompleted {
		t.Errorf("plan upsert lost the update")
	}
}

func TestLoadPlanNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadPlan(context.Background(), "missing")
	if !errors.Is(err, engine.ErrPlanNotFound) {
		t.Errorf("error = %v, want ErrPlanNotFound", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "very large tool output"
	handle, err := s.PutArtifact(ctx, "sess-1", content)
	if err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}
	if handle == "" {
		t.Fatal("empty artifact handle")
	}

	got, err := s.GetArtifact(ctx, handle)
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if got != content {
		t.Errorf("artifact content = %q", got)
	}

	if _, err := s.GetArtifact(ctx, "art_unknown"); err == nil {
		t.Error("expected error for unknown handle")
	}

	// Deleting the session removes its artifacts.
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetArtifact(ctx, handle); err == nil {
		t.Error("artifact survived session deletion")
	}
}
