package model

// DeltaEvent carries the full assistant text received so far. Consumers
// replace rather than append, which keeps duplicate delivery harmless.
type DeltaEvent struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// MessageCompleteEvent signals that the assistant reply finished streaming.
type MessageCompleteEvent struct {
	Message Message `json:"message"`
}

// ErrorEvent represents a stream-terminating error delivered over SSE.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
