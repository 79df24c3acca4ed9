// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"context"
	"log/slog"
)

// capturingHandler is a minimal [slog.Handler] that appends every record it
// receives to a slice, for inspection by tests.
type capturingHandler struct {
	records *[]slog.Record
}

var _ slog.Handler = capturingHandler{}

func (capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h capturingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h capturingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h capturingHandler) WithGroup(_ string) slog.Handler { return h }

// newCapturingLogger returns an [SLogger] that captures all log records into
// the returned slice. The caller can inspect the slice after exercising the
// code under test to verify which events were emitted.
func newCapturingLogger() (SLogger, *[]slog.Record) {
	var records []slog.Record
	return slog.New(capturingHandler{records: &records}), &records
}
