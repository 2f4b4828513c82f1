// Package oracle asks a language model to score article snapshots for bias
// and to write the neutral narrative fields of a ledger entry
package oracle

import (
	"context"
	"time"
)

// Provider is a chat-completion backend that answers with a JSON object
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one system + user exchange and returns the raw reply
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// CompletionRequest is one scoring exchange
type CompletionRequest struct {
	System    string
	User      string
	Model     string // Empty uses the provider's configured model
	MaxTokens int
}

// Completion is a provider reply
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout) * time.Second
	}
	return fallback
}

func (c Config) model(req CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

func (c Config) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1200
}
