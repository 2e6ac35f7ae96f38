package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		maxBytes int
		wantErr  bool
	}{
		{"valid content", "hello", 0, false},
		{"empty content", "", 0, true},
		{"at the cap", strings.Repeat("a", 10), 10, false},
		{"over the cap", strings.Repeat("a", 11), 10, true},
		{"zero cap selects default", strings.Repeat("a", DefaultMaxMessageBytes), 0, false},
		{"over default cap", strings.Repeat("a", DefaultMaxMessageBytes+1), 0, true},
		{"invalid utf-8", string([]byte{0xff, 0xfe}), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageContent(tt.content, tt.maxBytes)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIDs(t *testing.T) {
	const valid = "0190fa00-0000-7000-8000-000000000000"

	require.NoError(t, ValidateThreadID(valid))
	require.NoError(t, ValidateMessageID(valid))

	assert.Error(t, ValidateThreadID("not-a-uuid"))
	assert.Error(t, ValidateThreadID(""))
	assert.Error(t, ValidateMessageID("not-a-uuid"))
	assert.Error(t, ValidateMessageID(""))
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("quarterly planning"))
	assert.NoError(t, ValidateTitle(strings.Repeat("a", 256)))
	assert.Error(t, ValidateTitle(strings.Repeat("a", 257)))
	assert.Error(t, ValidateTitle(string([]byte{0xff, 0xfe})))
}
