package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry at TraceLevel and above. Components that
// take a *zap.Logger get one through Underlying.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// RequireEntry returns the last entry with message msg at level, failing
// the test when there is none.
func (t *TestLogger) RequireEntry(tb testing.TB, level zapcore.Level, msg string) observer.LoggedEntry {
	tb.Helper()
	entries := t.observed.FilterMessage(msg).FilterLevelExact(level).All()
	if len(entries) == 0 {
		messages := make([]string, 0, t.observed.Len())
		for _, e := range t.observed.All() {
			messages = append(messages, e.Level.String()+" "+e.Message)
		}
		tb.Fatalf("no %s entry %q; recorded: %v", level, msg, messages)
	}
	return entries[len(entries)-1]
}

// Fields returns the context of entry keyed by field name. Integer fields
// come back as int64.
func Fields(entry observer.LoggedEntry) map[string]any {
	return entry.ContextMap()
}
