package llm

import (
	"fmt"
	"os"
	"time"

	"neuroforge/internal/domain"
	"neuroforge/internal/retry"
)

// API key environment variables per provider.
const (
	geminiKeyEnv = "GEMINI_API_KEY"
	openaiKeyEnv = "OPENAI_API_KEY"
)

// lookupEnvFunc resolves API keys. Package-level so tests can inject keys
// without touching the process environment.
var lookupEnvFunc = os.LookupEnv

// NewProvider returns an LLMProvider for the given provider name and model,
// optionally wrapped with exponential-backoff retry. Provider may be "local",
// "openai", "ollama", or "gemini"; empty defaults to "local". API keys are
// resolved from the environment.
func NewProvider(provider, model string, retryCfg *domain.RetryConfig) (domain.LLMProvider, error) {
	base, err := newBaseProvider(provider, model)
	if err != nil {
		return nil, err
	}
	return wrapWithRetry(base, retryCfg), nil
}

func newBaseProvider(provider, model string) (domain.LLMProvider, error) {
	if provider == "" {
		provider = "local"
	}
	switch provider {
	case "local":
		return NewLocalProvider(""), nil
	case "ollama":
		return NewOllamaProvider(model), nil
	case "openai":
		key, err := requireKey("openai", openaiKeyEnv)
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(key, model), nil
	case "gemini":
		key, err := requireKey("gemini", geminiKeyEnv)
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(key, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (use: local, openai, ollama, gemini)", provider)
	}
}

// requireKey fetches a provider's API key from the environment.
func requireKey(providerName, envName string) (string, error) {
	key, ok := lookupEnvFunc(envName)
	if !ok || key == "" {
		return "", fmt.Errorf("%s provider: API key not set (export %s)", providerName, envName)
	}
	return key, nil
}

// wrapWithRetry decorates a provider with retry logic when config is supplied.
func wrapWithRetry(provider domain.LLMProvider, retryCfg *domain.RetryConfig) domain.LLMProvider {
	if retryCfg == nil || retryCfg.MaxRetries <= 0 {
		return provider
	}
	cfg := retry.Config{
		MaxRetries:     retryCfg.MaxRetries,
		InitialBackoff: time.Duration(retryCfg.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(retryCfg.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(retryCfg.Multiplier),
	}
	return retry.NewRetryableProvider(provider, cfg)
}
