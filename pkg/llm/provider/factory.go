// Package provider builds LLM clients with their middleware chain.
package provider

import (
	"fmt"

	"genforge/pkg/config"
	"genforge/pkg/llm"
	"genforge/pkg/llm/internal/llmimpl/anthropic"
	"genforge/pkg/llm/internal/llmimpl/google"
	"genforge/pkg/llm/internal/llmimpl/ollama"
	"genforge/pkg/llm/internal/llmimpl/openai"
	"genforge/pkg/llm/middleware/metrics"
	"genforge/pkg/logx"
	pmetrics "genforge/pkg/metrics"
)

// Factory creates LLM clients for the configured model.
type Factory struct {
	model    config.ModelConfig
	recorder pmetrics.Recorder
	logger   *logx.Logger
	// keyFn resolves credentials; replaced in tests.
	keyFn func(provider string) (string, error)
}

// NewFactory creates a factory. A nil recorder disables metrics.
func NewFactory(model config.ModelConfig, recorder pmetrics.Recorder) *Factory {
	if recorder == nil {
		recorder = pmetrics.Nop()
	}
	return &Factory{
		model:    model,
		recorder: recorder,
		logger:   logx.NewLogger("llm"),
		keyFn:    config.GetAPIKey,
	}
}

// Provider returns the configured provider, inferring it from the model name when unset.
func (f *Factory) Provider() (string, error) {
	if f.model.Provider != "" {
		return f.model.Provider, nil
	}
	return config.InferProvider(f.model.Name)
}

// CreateClient returns a client wrapped as Metrics -> RateLimit -> raw client.
// There is no retry layer: rate limits surface to the caller as
// llm.RateLimitExceededError.
func (f *Factory) CreateClient() (llm.LLMClient, error) {
	raw, err := f.rawClient()
	if err != nil {
		return nil, err
	}
	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, f.logger),
		llm.RateLimitMiddleware(),
	), nil
}

func (f *Factory) rawClient() (llm.LLMClient, error) {
	provider, err := f.Provider()
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", f.model.Name, err)
	}

	cfg := llm.LLMConfig{
		Provider:    provider,
		BaseURL:     f.model.BaseURL,
		ModelName:   f.model.EffectiveName(),
		MaxTokens:   f.model.MaxTokens,
		Temperature: float32(f.model.Temperature),
	}
	// Ollama's "key" is its host URL.
	if provider != config.ProviderOllama || cfg.BaseURL == "" {
		key, keyErr := f.keyFn(provider)
		if keyErr != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, keyErr)
		}
		if provider == config.ProviderOllama {
			cfg.BaseURL = key
		} else {
			cfg.APIKey = key
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(cfg.APIKey, cfg.ModelName), nil
	case config.ProviderOpenAI:
		return openai.NewClientWithModel(cfg.APIKey, cfg.ModelName, cfg.BaseURL), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(cfg.APIKey, cfg.ModelName), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(cfg.BaseURL, cfg.ModelName), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
