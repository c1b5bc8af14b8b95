package retrydlq

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultLogger(t *testing.T) {
	logger, err := NewDefaultLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("default logger ready")
}

func TestNullString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected sql.NullString
	}{
		{"empty string", "", sql.NullString{String: "", Valid: false}},
		{"trace id", "4bf92f3577b34da6a3ce929d0e0e4736", sql.NullString{String: "4bf92f3577b34da6a3ce929d0e0e4736", Valid: true}},
		{"whitespace string", " ", sql.NullString{String: " ", Valid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nullString(tt.input))
		})
	}
}

func TestTextOrNull(t *testing.T) {
	assert.False(t, textOrNull("").Valid)

	text := textOrNull("00f067aa0ba902b7")
	assert.True(t, text.Valid)
	assert.Equal(t, "00f067aa0ba902b7", text.String)
}
