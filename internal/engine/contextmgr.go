// Package engine provides the mission execution loop.
// This file contains token budget management and history compression.

package engine

import (
	"context"
	"fmt"
	"strings"
)

// CompressionStrategy represents a compression approach.
type CompressionStrategy int

const (
	CompressionSummarize CompressionStrategy = iota
	CompressionFallback
)

func (s CompressionStrategy) String() string {
	switch s {
	case CompressionSummarize:
		return "summarize"
	case CompressionFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// BudgetConfig defines token budget limits and compression settings.
type BudgetConfig struct {
	// MaxInputTokens is the hard ceiling on tokens sent to the model.
	MaxInputTokens int
	// CompressionTrigger is the fraction of MaxInputTokens at which
	// compression kicks in.
	CompressionTrigger float64
	// CompressPrefixCap bounds how many old messages are handed to the
	// summarizer in one pass.
	CompressPrefixCap int
	// FallbackKeepLast is how many recent messages the deterministic
	// fallback keeps.
	FallbackKeepLast int
	// ArtifactThreshold is the character count above which tool output
	// is moved to the artifact store and replaced with a preview.
	ArtifactThreshold int
	// ArtifactPreview is the preview length kept inline.
	ArtifactPreview int
}

// DefaultBudgetConfig returns sensible default budget configuration.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxInputTokens:     100000,
		CompressionTrigger: 0.8,
		CompressPrefixCap:  15,
		FallbackKeepLast:   10,
		ArtifactThreshold:  5000,
		ArtifactPreview:    500,
	}
}

const summarizeSystem = `You compress prior conversation history for a task-execution agent. Preserve task outcomes, tool names, file paths, parameters, errors, and user answers. Omit pleasantries and redundant logs.`

const fallbackNote = "[Note: earlier conversation history was dropped to fit the context window. The plan state above is authoritative.]"

// BudgetError indicates messages cannot fit within the hard limit.
type BudgetError struct {
	RequiredTokens int
	HardLimit      int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("token budget exceeded: %d required, hard limit %d", e.RequiredTokens, e.HardLimit)
}

// ContextManager keeps conversation history within the token budget.
type ContextManager struct {
	llm       LLMClient
	model     string
	tokenizer Tokenizer
	budget    BudgetConfig
	artifacts ArtifactStore
}

// NewContextManager builds a manager. artifacts may be nil, in which
// case large tool outputs are truncated inline instead of offloaded.
func NewContextManager(llm LLMClient, model string, budget BudgetConfig, artifacts ArtifactStore) *ContextManager {
	if budget.CompressionTrigger <= 0 || budget.CompressionTrigger > 1 {
		budget.CompressionTrigger = 0.8
	}
	if budget.CompressPrefixCap <= 0 {
		budget.CompressPrefixCap = 15
	}
	if budget.FallbackKeepLast <= 0 {
		budget.FallbackKeepLast = 10
	}
	if budget.ArtifactThreshold <= 0 {
		budget.ArtifactThreshold = 5000
	}
	if budget.ArtifactPreview <= 0 {
		budget.ArtifactPreview = 500
	}
	return &ContextManager{
		llm:       llm,
		model:     model,
		tokenizer: GetTokenizerForModel(model),
		budget:    budget,
		artifacts: artifacts,
	}
}

// count estimates the token footprint of a message slice.
func (cm *ContextManager) count(msgs []ChatMessage) int {
	n, err := CountTokensForMessages(cm.tokenizer, msgs, cm.model)
	if err != nil {
		total := 0
		for _, m := range msgs {
			total += EstimateTokens(m.Content) + 4
		}
		return total
	}
	return n
}

// Prepare returns the messages to send to the model, compressing the
// history when it crosses the trigger threshold. LLM summarization is
// attempted first; on any summarization failure the deterministic
// fallback runs instead, so Prepare itself never fails on an LLM error.
func (cm *ContextManager) Prepare(ctx context.Context, st *State, msgs []ChatMessage, hooks Hooks) ([]ChatMessage, int, error) {
	count := cm.count(msgs)
	if cm.budget.MaxInputTokens <= 0 {
		return msgs, count, nil
	}

	trigger := int(float64(cm.budget.MaxInputTokens) * cm.budget.CompressionTrigger)
	if count < trigger {
		return msgs, count, nil
	}

	hooks.OnBudgetExceeded(ctx, st, count, trigger, cm.budget.MaxInputTokens)

	compressed, err := cm.summarizePrefix(ctx, msgs)
	if err == nil {
		newCount := cm.count(compressed)
		if newCount < count {
			hooks.OnBudgetCompression(ctx, st, count, newCount, CompressionSummarize)
			msgs, count = compressed, newCount
		}
	}

	// Preflight against the hard ceiling: first truncate individual
	// message bodies, then drop history. Both paths are deterministic
	// and never call the model.
	if count > cm.budget.MaxInputTokens {
		truncated := truncateContents(msgs, 2000)
		if c := cm.count(truncated); c < count {
			msgs, count = truncated, c
		}
	}
	if count > cm.budget.MaxInputTokens {
		fb := cm.Fallback(msgs)
		fbCount := cm.count(fb)
		hooks.OnBudgetCompression(ctx, st, count, fbCount, CompressionFallback)
		msgs, count = fb, fbCount
	}
	if count > cm.budget.MaxInputTokens {
		return nil, count, &BudgetError{RequiredTokens: count, HardLimit: cm.budget.MaxInputTokens}
	}
	return msgs, count, nil
}

// summarizePrefix replaces the oldest non-system messages with one
// LLM-produced summary message, keeping the recent suffix verbatim.
func (cm *ContextManager) summarizePrefix(ctx context.Context, msgs []ChatMessage) ([]ChatMessage, error) {
	system, rest := splitSystem(msgs)
	if len(rest) <= cm.budget.FallbackKeepLast {
		return nil, fmt.Errorf("not enough messages to summarize")
	}

	prefix := rest[:len(rest)-cm.budget.FallbackKeepLast]
	suffix := rest[len(rest)-cm.budget.FallbackKeepLast:]

	// Summarize the oldest messages; anything between the summarized
	// region and the recent suffix stays verbatim, so no history is
	// dropped without a trace. Later passes roll the window forward.
	var middle []ChatMessage
	if len(prefix) > cm.budget.CompressPrefixCap {
		middle = prefix[cm.budget.CompressPrefixCap:]
		prefix = prefix[:cm.budget.CompressPrefixCap]
	}

	req := []ChatMessage{
		{Role: RoleSystem, Content: summarizeSystem},
		{Role: RoleUser, Content: "Summarize the following history in <= 200 tokens, preserve facts and decisions:\n\n" + renderForSummary(prefix)},
	}
	resp, err := cm.llm.Chat(ctx, cm.model, req, nil, ChatOptions{MaxOutputTokens: 256})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Assistant.Content) == "" {
		return nil, fmt.Errorf("summarizer returned empty content")
	}

	summary := ChatMessage{
		Role:    RoleSystem,
		Content: "<history_summary>\n" + resp.Assistant.Content + "\n</history_summary>",
	}

	kept := make([]ChatMessage, 0, len(middle)+len(suffix))
	kept = append(kept, middle...)
	kept = append(kept, suffix...)

	out := make([]ChatMessage, 0, len(system)+1+len(kept))
	out = append(out, system...)
	out = append(out, summary)
	out = append(out, sanitizeSuffix(kept)...)
	return out, nil
}

// Fallback shrinks history without calling the model: system messages,
// a drop note, and the most recent messages survive.
func (cm *ContextManager) Fallback(msgs []ChatMessage) []ChatMessage {
	system, rest := splitSystem(msgs)
	keep := cm.budget.FallbackKeepLast
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	out := make([]ChatMessage, 0, len(system)+1+len(rest))
	out = append(out, system...)
	out = append(out, ChatMessage{Role: RoleSystem, Content: fallbackNote})
	out = append(out, sanitizeSuffix(rest)...)
	return out
}

// StoreResult offloads oversized tool output to the artifact store and
// returns the inline representation. Short output passes through.
func (cm *ContextManager) StoreResult(ctx context.Context, sessionID, output string) string {
	if len(output) <= cm.budget.ArtifactThreshold {
		return output
	}
	preview := output[:cm.budget.ArtifactPreview]
	if cm.artifacts == nil {
		return preview + fmt.Sprintf("\n... [truncated, %d chars total]", len(output))
	}
	handle, err := cm.artifacts.PutArtifact(ctx, sessionID, output)
	if err != nil {
		return preview + fmt.Sprintf("\n... [truncated, %d chars total]", len(output))
	}
	return preview + fmt.Sprintf("\n... [full output stored as artifact %s, %d chars total]", handle, len(output))
}

// splitSystem partitions messages into leading system messages and the rest.
// Interior system messages (summaries, notes) stay in rest so ordering holds.
func splitSystem(msgs []ChatMessage) (system, rest []ChatMessage) {
	i := 0
	for i < len(msgs) && msgs[i].Role == RoleSystem {
		i++
	}
	return msgs[:i], msgs[i:]
}

// sanitizeSuffix repairs tool-call pairing after a cut. A tool message
// whose assistant tool-call request was dropped would be rejected by
// providers, so orphaned tool messages become plain user observations.
func sanitizeSuffix(msgs []ChatMessage) []ChatMessage {
	pending := make(map[string]bool)
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
			}
		case RoleTool:
			if !pending[m.Name] {
				m = ChatMessage{Role: RoleUser, Content: "[tool result] " + m.Content}
			}
		}
		out = append(out, m)
	}
	return out
}

// truncateContents caps each non-system message body at maxChars,
// keeping head and tail.
func truncateContents(msgs []ChatMessage, maxChars int) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if m.Role == RoleSystem || len(m.Content) <= maxChars {
			continue
		}
		head := m.Content[:maxChars/2]
		tail := m.Content[len(m.Content)-maxChars/2:]
		out[i].Content = head + "\n...\n" + tail
	}
	return out
}

func renderForSummary(ms []ChatMessage) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString("[" + string(m.Role) + "] ")
		content := m.Content
		if len(content) > 2000 {
			content = content[:2000] + "..."
		}
		b.WriteString(content)
		for _, tc := range m.ToolCalls {
			b.WriteString(fmt.Sprintf(" [called %s]", tc.Name))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
