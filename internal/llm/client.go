// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool

	// JSONMode asks the provider for a single JSON object answer.
	JSONMode bool
}

// ChatMessage represents a chat message for LLM. Images are URLs the
// model should look at alongside Content.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// CompletionResponse represents a completion response. Token counts are
// the provider's own usage figures, zero when it reports none.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewOpenAIClient(apiKey)
	}
}

// ModelFor maps a user's preferred model tier ("default", "fast",
// "detailed", "creative") onto a concrete model for c and a temperature.
func ModelFor(c Client, tier string) (string, float64) {
	models := c.Models()
	if len(models) == 0 {
		return "", 0.7
	}
	switch tier {
	case "fast":
		if len(models) > 1 {
			return models[1], 0.3
		}
		return models[0], 0.3
	case "creative":
		return models[0], 1.0
	case "detailed":
		return models[0], 0.4
	default:
		return models[0], 0.7
	}
}
