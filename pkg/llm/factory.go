package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/config"
)

// NewClientFromConfig builds the extraction client for the configured provider.
// It returns (nil, nil) when no provider is configured; callers treat that as
// "extraction disabled".
func NewClientFromConfig(cfg config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  cfg.JSONMode,
		Timeout:   cfg.RequestTimeout,
	}

	var (
		client LLMClient
		err    error
	)
	switch cfg.Provider {
	case "", config.LLMProviderNone:
		return nil, nil
	case config.LLMProviderOpenAI:
		client, err = NewClient(clientCfg, logger)
	case config.LLMProviderAnthropic:
		client, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	if cfg.CircuitThreshold <= 0 {
		return client, nil
	}
	return NewGuardedClient(client, NewCircuitBreaker(breakerConfig(cfg))), nil
}

// breakerConfig overlays the configured breaker settings on the defaults.
func breakerConfig(cfg config.LLMConfig) CircuitBreakerConfig {
	bc := DefaultCircuitBreakerConfig()
	if cfg.CircuitThreshold > 0 {
		bc.Threshold = cfg.CircuitThreshold
	}
	if cfg.CircuitResetAfter > 0 {
		bc.ResetAfter = cfg.CircuitResetAfter
	}
	return bc
}
