// Package model defines data structures for the chat gateway.
package model

import (
	"time"
)

// DefaultThreadTitle is the title a thread carries until its first user
// message, or when a rename collapses to the empty string.
const DefaultThreadTitle = "New chat"

// Thread represents a single conversation: an ordered, append-only list of
// messages. Insertion order is chronological order.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can read thread state without holding
// a reference into the store's mutable collection.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Messages = make([]Message, len(t.Messages))
	copy(cp.Messages, t.Messages)
	return &cp
}

// CreateThreadRequest is the request to create a new thread.
type CreateThreadRequest struct {
	Title string `json:"title,omitempty"`
}

// RenameThreadRequest is the request to rename a thread.
type RenameThreadRequest struct {
	Title string `json:"title"`
}

// ListThreadsResponse is the response for listing threads, most recently
// updated first.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Current string   `json:"current,omitempty"`
}

// SessionResponse is the response of the locator reconciliation endpoint.
type SessionResponse struct {
	ThreadID string `json:"thread_id,omitempty"`
	Redirect bool   `json:"redirect"`
}
