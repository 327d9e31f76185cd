// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform interface
// for the conversation gateway without coupling it to any specific SDK.
//
// Implementations must be safe for concurrent use and must classify their
// failures with the sentinels in [github.com/MrWong99/prophet/pkg/apierr]:
// a missing API key wraps ErrMissingCredential, an unusable base URL wraps
// ErrInvalidEndpoint, a non-2xx status wraps ErrRequestFailed and a response
// without choices wraps ErrEmptyResponse. Providers never retry.
package llm

import (
	"context"

	"github.com/MrWong99/prophet/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means no cap.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns promptly with a wrapped context error when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() types.ModelCapabilities
}
