package logger

import "sync"

// NullLogger discards everything. Useful for tests and benchmarks.
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (NullLogger) Debug(string, ...any) {}
func (NullLogger) Info(string, ...any)  {}
func (NullLogger) Error(string, ...any) {}

// CaptureLogger records every call so tests can assert on emitted lines.
type CaptureLogger struct {
	mu    sync.Mutex
	lines []CapturedLine
}

type CapturedLine struct {
	Level   string
	Message string
	KeyVals []any
}

func NewCaptureLogger() *CaptureLogger { return &CaptureLogger{} }

func (c *CaptureLogger) Debug(msg string, keyvals ...any) { c.add("debug", msg, keyvals) }
func (c *CaptureLogger) Info(msg string, keyvals ...any)  { c.add("info", msg, keyvals) }
func (c *CaptureLogger) Error(msg string, keyvals ...any) { c.add("error", msg, keyvals) }

func (c *CaptureLogger) add(level, msg string, keyvals []any) {
	c.mu.Lock()
	c.lines = append(c.lines, CapturedLine{Level: level, Message: msg, KeyVals: keyvals})
	c.mu.Unlock()
}

// Lines returns a copy of everything captured so far.
func (c *CaptureLogger) Lines() []CapturedLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedLine(nil), c.lines...)
}
