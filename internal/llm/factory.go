package llm

import (
	"context"
	"fmt"
	"time"
)

// FactoryConfig selects and configures a provider.
type FactoryConfig struct {
	Provider    string // "openai" or "gemini"
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewClient builds a Client for the configured provider.
func NewClient(ctx context.Context, config FactoryConfig) (Client, error) {
	switch config.Provider {
	case "openai", "":
		c := DefaultOpenAIConfig(config.APIKey)
		if config.BaseURL != "" {
			c.BaseURL = config.BaseURL
		}
		if config.Model != "" {
			c.Model = config.Model
		}
		if config.MaxTokens > 0 {
			c.MaxTokens = config.MaxTokens
		}
		if config.Temperature > 0 {
			c.Temperature = config.Temperature
		}
		if config.Timeout > 0 {
			c.Timeout = config.Timeout
		}
		return NewOpenAIClientWithConfig(c), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      config.APIKey,
			Model:       config.Model,
			MaxTokens:   config.MaxTokens,
			Temperature: config.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.Provider)
	}
}
