// Package logger defines the minimal structured logging contract the
// decision engine emits through, plus adapters for the phuslu-style log
// package and the standard library's slog. Embedders bring their own
// implementation by satisfying Logger.
package logger

// Logger accepts a message and alternating key/value pairs. A trailing
// key without a value is ignored.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc produces a correlation ID for one decision. Implementations
// must be cheap and safe for concurrent calls.
type TraceIDFunc func() string
