// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpanID(t *testing.T) {
	spanID := NewSpanID()

	// Should be a valid UUID string
	parsed, err := uuid.Parse(spanID)
	require.NoError(t, err)

	// Should be version 7 (time-ordered)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestNewSpanIDUniqueness(t *testing.T) {
	// Generate multiple span IDs and verify they're all unique
	const count = 100
	seen := make(map[string]struct{}, count)

	for range count {
		spanID := NewSpanID()
		_, duplicate := seen[spanID]
		require.False(t, duplicate, "duplicate span ID generated: %s", spanID)
		seen[spanID] = struct{}{}
	}
}

type recordingSLogger struct {
	debugArgs []any
	infoArgs  []any
}

func (r *recordingSLogger) Debug(msg string, args ...any) { r.debugArgs = args }
func (r *recordingSLogger) Info(msg string, args ...any)  { r.infoArgs = args }

func TestWithSpanPrependsSpanIDToEveryCall(t *testing.T) {
	inner := &recordingSLogger{}
	logger := withSpan(inner, "span-123")

	logger.Debug("msg", "k", "v")
	require.Len(t, inner.debugArgs, 2)
	assert.Equal(t, slog.String("spanID", "span-123"), inner.debugArgs[0])
	assert.Equal(t, "k", inner.debugArgs[1])

	logger.Info("msg")
	require.Len(t, inner.infoArgs, 1)
	assert.Equal(t, slog.String("spanID", "span-123"), inner.infoArgs[0])
}
