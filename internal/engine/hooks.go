package engine

import (
	"context"
	"time"

	"github.com/rudi77/taskforce/internal/plan"
)

type Hook interface {
	OnStepStart(ctx context.Context, st *State)
	OnBeforeLLM(ctx context.Context, st *State, messages []ChatMessage, toolSchemas []ToolSchema)
	OnAfterLLM(ctx context.Context, st *State, resp LLMResponse)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, call ToolCall, result string, err error)
	OnPlanUpdated(ctx context.Context, st *State, p *plan.Plan)
	OnAskUser(ctx context.Context, st *State, question string, options []string)
	OnStreamDelta(ctx context.Context, st *State, delta string) // for streaming
	OnDone(ctx context.Context, st *State)
	// Retry hooks
	OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error)
	OnRetryExhausted(ctx context.Context, st *State, err error)
	// Budget hooks
	OnBudgetExceeded(ctx context.Context, st *State, tokenCount int, softLimit int, hardLimit int)
	OnBudgetCompression(ctx context.Context, st *State, beforeTokens, afterTokens int, strategy CompressionStrategy)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnStepStart(context.Context, *State)                                        {}
func (NopHook) OnBeforeLLM(context.Context, *State, []ChatMessage, []ToolSchema)           {}
func (NopHook) OnAfterLLM(context.Context, *State, LLMResponse)                            {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)                               {}
func (NopHook) OnToolResult(context.Context, *State, ToolCall, string, error)              {}
func (NopHook) OnPlanUpdated(context.Context, *State, *plan.Plan)                          {}
func (NopHook) OnAskUser(context.Context, *State, string, []string)                        {}
func (NopHook) OnStreamDelta(context.Context, *State, string)                              {}
func (NopHook) OnDone(context.Context, *State)                                             {}
func (NopHook) OnRetryAttempt(context.Context, *State, int, int, time.Duration, error)     {}
func (NopHook) OnRetryExhausted(context.Context, *State, error)                            {}
func (NopHook) OnBudgetExceeded(context.Context, *State, int, int, int)                    {}
func (NopHook) OnBudgetCompression(context.Context, *State, int, int, CompressionStrategy) {}
