package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/plan"
	"github.com/rudi77/taskforce/internal/prompts"
)

// Strategy kinds a replan can apply.
const (
	StrategyRetryWithParams = "RETRY_WITH_PARAMS"
	StrategySwapTool        = "SWAP_TOOL"
	StrategyDecomposeTask   = "DECOMPOSE_TASK"
	StrategySkip            = "SKIP"
)

// Replanner asks the model for a recovery strategy for a failing task
// and applies it to the plan. Any failure to obtain a valid strategy
// degrades to skipping the task; a replan never blocks the mission.
type Replanner struct {
	llm   engine.LLMClient
	model string
	retry engine.RetryPolicy
}

func NewReplanner(llm engine.LLMClient, model string) *Replanner {
	return &Replanner{llm: llm, model: model, retry: engine.DefaultRetryPolicy()}
}

type strategyPayload struct {
	Strategy  string         `json:"strategy"`
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`
	Subtasks  []struct {
		Description        string `json:"description"`
		AcceptanceCriteria string `json:"acceptance_criteria"`
	} `json:"subtasks"`
}

// Replan repairs the task at the given position in place and returns
// the strategy kind that was applied. The returned error is non-nil
// only for context cancellation or a missing task.
func (r *Replanner) Replan(ctx context.Context, p *plan.Plan, position int) (string, error) {
	task := p.Get(position)
	if task == nil {
		return "", fmt.Errorf("replan: no task at position %d", position)
	}

	payload, err := r.requestStrategy(ctx, p, task)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return r.applySkip(task), nil
	}

	switch strings.ToUpper(payload.Strategy) {
	case StrategyRetryWithParams:
		task.ToolInput = payload.ToolInput
		task.Status = plan.StatusPending
		task.ReplanCount++
		return StrategyRetryWithParams, nil

	case StrategySwapTool:
		if payload.Tool == "" {
			return r.applySkip(task), nil
		}
		task.ChosenTool = payload.Tool
		task.ToolInput = payload.ToolInput
		task.Status = plan.StatusPending
		task.ReplanCount++
		return StrategySwapTool, nil

	case StrategyDecomposeTask:
		subtasks := make([]plan.Task, 0, len(payload.Subtasks))
		for _, s := range payload.Subtasks {
			if strings.TrimSpace(s.Description) == "" {
				continue
			}
			subtasks = append(subtasks, plan.Task{
				Description:        s.Description,
				AcceptanceCriteria: s.AcceptanceCriteria,
				MaxAttempts:        plan.DefaultMaxAttempts,
			})
		}
		if len(subtasks) == 0 {
			return r.applySkip(task), nil
		}
		if err := p.Decompose(position, subtasks); err != nil {
			return r.applySkip(task), nil
		}
		return StrategyDecomposeTask, nil

	case StrategySkip:
		return r.applySkip(task), nil

	default:
		return r.applySkip(task), nil
	}
}

func (r *Replanner) applySkip(task *plan.Task) string {
	task.Status = plan.StatusSkipped
	return StrategySkip
}

func (r *Replanner) requestStrategy(ctx context.Context, p *plan.Plan, task *plan.Task) (*strategyPayload, error) {
	lastErr := ""
	if task.ExecutionResult != nil {
		lastErr = task.ExecutionResult.Error
	}
	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: prompts.ReplannerSystem()},
		{Role: engine.RoleUser, Content: prompts.ReplannerUser(
			p.FormatForPrompt(), task.Position, task.Description, lastErr, task.Attempts)},
	}

	resp, err := engine.RetryLLMCall(ctx, r.retry, nil, func(ctx context.Context) (engine.LLMResponse, error) {
		return r.llm.Chat(ctx, r.model, msgs, nil, engine.ChatOptions{Temperature: 0.1})
	})
	if err != nil {
		return nil, err
	}

	var payload strategyPayload
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Assistant.Content)), &payload); err != nil {
		return nil, fmt.Errorf("invalid strategy response: %w", err)
	}
	if payload.Strategy == "" {
		return nil, fmt.Errorf("strategy response missing strategy field")
	}
	return &payload, nil
}
