package engine

import (
	"context"
	"log"
	"time"

	"github.com/rudi77/taskforce/internal/plan"
)

// LoggerHook writes engine activity to a standard logger. Useful for
// debugging; the CLI attaches it in verbose mode.
type LoggerHook struct{ L *log.Logger }

func (h LoggerHook) OnStepStart(_ context.Context, st *State) {
	h.L.Printf("iteration=%d session=%s", st.Iteration, st.SessionID)
}

func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, msgs []ChatMessage, toolSchemas []ToolSchema) {
	tokenizer := GetTokenizerForModel("")
	messageTokens, _ := CountTokensForMessages(tokenizer, msgs, "")

	historyCount := len(st.History)
	sentCount := len(msgs) - 1 // minus the per-iteration system prompt
	if sentCount < historyCount {
		h.L.Printf("llm request: %d msgs (compressed from %d) ~%d tokens", sentCount, historyCount, messageTokens)
	} else {
		h.L.Printf("llm request: %d msgs ~%d tokens", sentCount, messageTokens)
	}
}

func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	h.L.Printf("finish=%s tokens: prompt=%d completion=%d (cumulative in=%d out=%d)",
		r.FinishReason, r.Usage.Prompt, r.Usage.Completion, st.TotalInputTokens, st.TotalOutputTokens)
}

func (h LoggerHook) OnToolCall(_ context.Context, _ *State, c ToolCall) {
	h.L.Printf("tool -> %s args=%v", c.Name, c.Args)
}

func (h LoggerHook) OnToolResult(_ context.Context, _ *State, c ToolCall, result string, err error) {
	if err != nil {
		h.L.Printf("tool %s error: %v", c.Name, err)
		return
	}
	preview := result
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.L.Printf("tool %s result: %s", c.Name, preview)
}

func (h LoggerHook) OnPlanUpdated(_ context.Context, _ *State, p *plan.Plan) {
	h.L.Printf("plan %s: %d tasks", p.ID, len(p.Items))
}

func (h LoggerHook) OnAskUser(_ context.Context, _ *State, question string, options []string) {
	h.L.Printf("paused on question: %s options=%v", question, options)
}

func (h LoggerHook) OnStreamDelta(_ context.Context, _ *State, _ string) {}

func (h LoggerHook) OnDone(_ context.Context, st *State) {
	h.L.Printf("done: status=%s iterations=%d tokens in=%d out=%d",
		st.Status, st.Iteration, st.TotalInputTokens, st.TotalOutputTokens)
}

func (h LoggerHook) OnRetryAttempt(_ context.Context, _ *State, attempt, maxAttempts int, delay time.Duration, err error) {
	h.L.Printf("retry attempt=%d/%d delay=%v error=%v", attempt, maxAttempts, delay, err)
}

func (h LoggerHook) OnRetryExhausted(_ context.Context, _ *State, err error) {
	h.L.Printf("retries exhausted: %v", err)
}

func (h LoggerHook) OnBudgetExceeded(_ context.Context, _ *State, tokenCount, softLimit, hardLimit int) {
	h.L.Printf("budget exceeded: tokens=%d soft_limit=%d hard_limit=%d", tokenCount, softLimit, hardLimit)
}

func (h LoggerHook) OnBudgetCompression(_ context.Context, _ *State, beforeTokens, afterTokens int, strategy CompressionStrategy) {
	if beforeTokens <= 0 {
		return
	}
	h.L.Printf("budget compression: %s before=%d after=%d reduction=%.1f%%",
		strategy, beforeTokens, afterTokens,
		float64(beforeTokens-afterTokens)/float64(beforeTokens)*100)
}
