package llm

import (
	"fmt"

	"lowforge/internal/config"
)

// New builds a completion client from configuration.
func New(cfg *config.Config) (Client, error) {
	opts := Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.GetLLMTimeout(),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}

	switch cfg.LLM.Provider {
	case "openai", "":
		return NewOpenAIClient(opts), nil
	case "anthropic":
		return NewAnthropicClient(opts), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.LLM.Provider)
	}
}
