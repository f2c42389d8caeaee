package providers

import (
	"fmt"
	"os"

	"github.com/rudi77/taskforce/internal/engine"
)

// NewLLMClientFromEnv builds an engine.LLMClient from environment
// variables and returns it with the model name to use.
//
//	LLM_PROVIDER: openai (default) | anthropic
//	OPENAI_API_KEY / OPENAI_MODEL / OPENAI_BASE_URL
//	ANTHROPIC_API_KEY / ANTHROPIC_MODEL
func NewLLMClientFromEnv() (engine.LLMClient, string, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		// OPENAI_BASE_URL enables OpenAI-compatible endpoints.
		return NewOpenAIClient(apiKey, os.Getenv("OPENAI_BASE_URL")), model, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return NewAnthropicClient(apiKey), model, nil

	default:
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER %q (want openai or anthropic)", provider)
	}
}
