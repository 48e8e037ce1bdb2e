// Package llmprovider abstracts LLM backends behind one Provider interface
// so the llm and agent executors never import a vendor SDK directly.
// Grounded on the teacher's features/model/{anthropic,openai} adapter
// shape: one small Provider per vendor, selected by name at runtime.
package llmprovider

import (
	"context"

	"github.com/iceos/core/ice"
)

// Message is one turn in a chat-style completion request.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant" | "tool"
	Content string `json:"content"`
}

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []ToolSchema // for agent-loop tool-use turns
}

// ToolSchema describes a callable tool offered to the model for tool-use.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	CallID    string
}

// CompletionResponse is a provider-agnostic completion result.
type CompletionResponse struct {
	Text        string
	ToolCalls   []ToolCall
	TokensUsed  int
	StopReason  string
}

// Provider is implemented once per vendor.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Factory resolves a Provider by name ("anthropic", "openai", "bedrock").
type Factory func(provider string) (Provider, error)

// ErrUnknownProvider is returned by a Factory for an unregistered name.
func ErrUnknownProvider(name string) error {
	return ice.New(ice.KindLLMProvider, "no provider registered for %q", name)
}

// NewStaticFactory builds a Factory over a fixed, pre-constructed map —
// the common case in tests and in cmd/iceosd's composition root.
func NewStaticFactory(providers map[string]Provider) Factory {
	return func(name string) (Provider, error) {
		p, ok := providers[name]
		if !ok {
			return nil, ErrUnknownProvider(name)
		}
		return p, nil
	}
}
