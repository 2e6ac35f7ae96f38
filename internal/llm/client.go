// Package llm provides completion provider interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// ChatMessage represents one role/content pair of outbound context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a non-streaming completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// StreamCallbacks receive streaming output. OnChunk is invoked with the full
// text accumulated so far, not a single delta: consumers replace rather than
// append, which keeps duplicate or replayed events harmless. For one stream
// exactly one of OnComplete and OnError fires, and neither fires after an
// abort.
type StreamCallbacks struct {
	OnChunk    func(accumulated string)
	OnComplete func()
	OnError    func(err error)
}

// StreamHandle cancels an in-flight stream. Abort is idempotent and safe to
// call after the stream has already finished. Each stream gets its own
// handle, so concurrent attempts can never cross-cancel each other.
type StreamHandle interface {
	Abort()
}

// Client is the interface for completion providers.
type Client interface {
	// Complete sends a blocking completion request.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream opens a streaming completion request and returns immediately.
	// Output is delivered through the callbacks from a separate goroutine.
	Stream(ctx context.Context, req *CompletionRequest, cb StreamCallbacks) StreamHandle

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// StatusError reports a non-success response status from the completion
// endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)
