// Package llm defines the LLM capability consumed by the interview agents
// and provides the OpenAI-backed implementation plus retry wrapping.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrAgentUnavailable is returned once transient-failure retries are
	// exhausted. The session stays usable; the caller may retry the same
	// operation.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrTransient marks provider failures that are worth retrying
	// (network errors, 429, 5xx). Adapters wrap such errors with it.
	ErrTransient = errors.New("transient provider error")
)

// Message is one chat message in a generation request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is a single text-generation call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Client generates text. Implementations perform their own transport;
// concurrency caps and retries are layered on top.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Client. Used by tests for scripted
// responses.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
