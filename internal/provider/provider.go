// Package provider defines the unified interface and shared types for all LLM
// providers. Each adapter (openai.go, anthropic.go) converts the unified
// ChatRequest into its vendor API format and returns the completion text.
package provider

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in the conversation sent to a provider.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the unified request format sent to a provider.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// ErrEmptyCompletion is returned when a provider answers with no usable text.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// Provider is the unified interface for all LLM providers.
// Complete blocks until the full completion is available or the call fails;
// no streaming contract is offered at this layer.
type Provider interface {
	// Complete sends the request and returns the completion text.
	Complete(ctx context.Context, req *ChatRequest) (string, error)

	// Name returns the provider identifier, e.g. "openrouter", "openai", "anthropic".
	Name() string

	// DefaultModel returns the model used when the request doesn't name one.
	DefaultModel() string
}
