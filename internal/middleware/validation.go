package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxMessageBytes caps outbound message content when no deployment
// override is configured. A length cap is a configuration hook here, not a
// controller contract.
const DefaultMaxMessageBytes = 100000

// ValidateMessageContent validates message content against a byte cap.
// maxBytes <= 0 selects the default.
func ValidateMessageContent(content string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID validates a thread ID.
func ValidateThreadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid thread ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateTitle validates a thread title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
