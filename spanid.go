// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"log/slog"

	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way. This package opens one per [Context.Open] and [Context.Accept] call,
// per resolver query pair, and per happy-eyeballs candidate attempt, and
// attaches the ID to that span's logger with [withSpan] so its events can
// be correlated. AddressCache events carry no span ID.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails, which
// should only happen under extraordinary circumstances.
func NewSpanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id.String()
}

// withSpan returns an [SLogger] that prepends a "spanID" field to every
// Debug/Info call, the equivalent of [*slog.Logger.With]("spanID", id) for
// an [SLogger] that has no With method of its own (unlike *slog.Logger,
// SLogger is kept to the two logging verbs the core actually uses).
func withSpan(logger SLogger, spanID string) SLogger {
	return spanLogger{inner: logger, spanID: spanID}
}

type spanLogger struct {
	inner  SLogger
	spanID string
}

var _ SLogger = spanLogger{}

func (s spanLogger) Debug(msg string, args ...any) {
	s.inner.Debug(msg, s.withSpanID(args)...)
}

func (s spanLogger) Info(msg string, args ...any) {
	s.inner.Info(msg, s.withSpanID(args)...)
}

func (s spanLogger) withSpanID(args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, slog.String("spanID", s.spanID))
	out = append(out, args...)
	return out
}
