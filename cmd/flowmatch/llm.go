package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/llm"
)

// loadLLMConfig builds the LLM configuration from viper settings.
// Shared by every command that talks to a model.
func loadLLMConfig() (llm.Config, error) {
	provider := viper.GetString("llm.provider")
	if provider == "" {
		provider = "openai"
	}

	config := llm.Config{
		Provider:       provider,
		Model:          viper.GetString("llm.model"),
		EmbeddingModel: viper.GetString("llm.embedding_model"),
		Temperature:    viper.GetFloat64("llm.temperature"),
		MaxTokens:      viper.GetInt("llm.max_tokens"),
		MaxRetries:     viper.GetInt("llm.max_retries"),
		RetryDelay:     viper.GetDuration("llm.retry_delay"),
		RateLimit:      viper.GetInt("llm.rate_limit"),
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1000 // requests per minute
	}

	switch provider {
	case "openai":
		apiKey := viper.GetString("llm.openai_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return llm.Config{}, common.NewUserError(
				"OpenAI API key not found in config or OPENAI_API_KEY environment variable",
				common.ErrMissingConfig)
		}
		config.APIKey = apiKey

		if config.Model == "" {
			config.Model = "gpt-4o"
		}
		if config.EmbeddingModel == "" {
			config.EmbeddingModel = "text-embedding-3-small"
		}

	case "anthropic":
		apiKey := viper.GetString("llm.anthropic_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return llm.Config{}, common.NewUserError(
				"Anthropic API key not found in config or ANTHROPIC_API_KEY environment variable",
				common.ErrMissingConfig)
		}
		config.APIKey = apiKey

		if config.Model == "" {
			config.Model = "claude-sonnet-4-20250514"
		}

	default:
		return llm.Config{}, fmt.Errorf("%w: unknown LLM provider %q", common.ErrInvalidConfig, provider)
	}

	return config, nil
}

// createLLMClient creates an LLM client based on configuration. The
// config is returned alongside the client so callers can hand it to
// components that share retry and rate-limit settings.
func createLLMClient() (llm.Client, llm.Config, error) {
	config, err := loadLLMConfig()
	if err != nil {
		return nil, llm.Config{}, err
	}
	client, err := llm.NewClient(config)
	if err != nil {
		return nil, llm.Config{}, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, config, nil
}
