package oracle

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/model"
)

const defaultTimeout = 60 * time.Second

// NewProvider creates a provider from configuration. An empty provider name
// disables scoring and returns nil, nil.
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown oracle provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts the oracle and HTTP sections of model.Config.
// Empty secrets fall back to the conventional provider environment variables.
func ConfigFromModel(oc model.OracleConfig, hc model.HTTPConfig) Config {
	cfg := Config{
		Provider:   oc.Provider,
		Model:      oc.Model,
		APIKey:     oc.APIKey,
		BaseURL:    oc.BaseURL,
		Timeout:    oc.Timeout,
		MaxTokens:  oc.MaxTokens,
		HTTPProxy:  hc.HTTPProxy,
		HTTPSProxy: hc.HTTPSProxy,
		NoProxy:    hc.NoProxy,
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}

	return cfg
}
