// Package engine provides the mission execution loop: plan-driven ReAct
// stepping, context budgeting, action parsing, and pause/resume.
//
// This file contains token counting interfaces and implementations.
package engine

import (
	"fmt"
	"strings"
)

// Tokenizer provides token counting for text. Different models use
// different tokenization schemes, so the model name is required.
type Tokenizer interface {
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens provides a rough token count estimation, ~4 characters per
// token for English/code. Approximate, but deterministic and model-free,
// which is what the budget fallback path requires.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	// (characters / 4) + (whitespace / 6): whitespace-heavy text has fewer
	// tokens per character.
	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// DefaultTokenizer uses estimation as a fallback when no specific tokenizer
// is available.
type DefaultTokenizer struct{}

// CountTokens implements Tokenizer using estimation.
func (t DefaultTokenizer) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// CountTokensForMessages counts tokens for a slice of messages, including
// formatting overhead (role names, separators).
func CountTokensForMessages(tokenizer Tokenizer, messages []ChatMessage, model string) (int, error) {
	total := 0

	for _, msg := range messages {
		roleTokens, err := tokenizer.CountTokens(string(msg.Role), model)
		if err != nil {
			return 0, fmt.Errorf("failed to count role tokens: %w", err)
		}
		total += roleTokens

		contentTokens, err := tokenizer.CountTokens(msg.Content, model)
		if err != nil {
			return 0, fmt.Errorf("failed to count content tokens: %w", err)
		}
		total += contentTokens

		for _, tc := range msg.ToolCalls {
			nameTokens, err := tokenizer.CountTokens(tc.Name, model)
			if err != nil {
				return 0, fmt.Errorf("failed to count tool call name tokens: %w", err)
			}
			total += nameTokens

			argsTokens, err := tokenizer.CountTokens(fmt.Sprintf("%v", tc.Args), model)
			if err != nil {
				return 0, fmt.Errorf("failed to count tool call args tokens: %w", err)
			}
			total += argsTokens
		}

		// Per-message formatting overhead.
		total += 4
	}

	return total, nil
}

// GetTokenizerForModel returns an appropriate tokenizer for the given model.
func GetTokenizerForModel(model string) Tokenizer {
	return DefaultTokenizer{}
}
