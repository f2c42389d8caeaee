// Package planner turns missions into plans and repairs failing tasks.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
	"github.com/rudi77/taskforce/internal/prompts"
)

// ErrInvalidPlan indicates the model returned output that could not be
// turned into a valid plan. Callers must treat this as a hard failure,
// never substitute an empty plan for it.
var ErrInvalidPlan = errors.New("model returned an invalid plan")

// Generator creates initial plans with one JSON-constrained LLM call.
type Generator struct {
	llm   engine.LLMClient
	model string
	retry engine.RetryPolicy
}

func NewGenerator(llm engine.LLMClient, model string) *Generator {
	return &Generator{llm: llm, model: model, retry: engine.DefaultRetryPolicy()}
}

type planItemPayload struct {
	Description        string `json:"description"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	Dependencies       []int  `json:"dependencies"`
}

type planPayload struct {
	Items         []planItemPayload `json:"items"`
	OpenQuestions []string          `json:"open_questions"`
}

// GeneratePlan asks the model for a plan and validates it. Positions
// are assigned 1..N in item order.
func (g *Generator) GeneratePlan(ctx context.Context, mission, toolCatalog string, answers []engine.QA) (*plan.Plan, error) {
	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: prompts.PlannerSystem()},
		{Role: engine.RoleUser, Content: prompts.PlannerUser(mission, toolCatalog, renderAnswers(answers))},
	}

	resp, err := engine.RetryLLMCall(ctx, g.retry, nil, func(ctx context.Context) (engine.LLMResponse, error) {
		return g.llm.Chat(ctx, g.model, msgs, nil, engine.ChatOptions{Temperature: 0.1})
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation call failed: %w", err)
	}

	payload, err := parsePlanPayload(resp.Assistant.Content)
	if err != nil {
		return nil, err
	}

	p := plan.New(mission)
	p.OpenQuestions = payload.OpenQuestions
	for i, item := range payload.Items {
		if strings.TrimSpace(item.Description) == "" {
			return nil, fmt.Errorf("%w: item %d has no description", ErrInvalidPlan, i+1)
		}
		p.Items = append(p.Items, plan.Task{
			Position:           i + 1,
			Description:        item.Description,
			AcceptanceCriteria: item.AcceptanceCriteria,
			Dependencies:       item.Dependencies,
			Status:             plan.StatusPending,
			MaxAttempts:        plan.DefaultMaxAttempts,
		})
	}

	if len(p.Items) > 0 {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	}
	return p, nil
}

func parsePlanPayload(raw string) (*planPayload, error) {
	text := extractJSONObject(raw)
	var payload planPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return &payload, nil
}

// extractJSONObject strips markdown fences and isolates the outermost
// JSON object from a model response.
func extractJSONObject(raw string) string {
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

func renderAnswers(answers []engine.QA) []string {
	out := make([]string, 0, len(answers))
	for _, qa := range answers {
		out = append(out, fmt.Sprintf("Q: %s A: %s", qa.Question, qa.Answer))
	}
	return out
}
