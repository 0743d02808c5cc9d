// Package logger provides the leveled logging interface used across warpreq.
// Backends include the stdlib logger, logrus, and a recording mock for tests.
package logger

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Level is the minimum severity a logger emits.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel maps a level name to a Level. Unknown names yield LevelInfo
// and a non-nil error.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger defines the interface for logging across all warpreq components.
type Logger interface {
	// Debug logs a diagnostic message (e.g., "request queued for 12ms").
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "Flush started").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "Retry attempt 2/3").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "transport start failed: connection refused").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times. Returns nil for loggers without resources.
	Close() error
}

// Leveled is implemented by loggers whose verbosity can change at runtime.
type Leveled interface {
	Level() Level
	SetLevel(Level)
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	level  atomic.Int32
}

// NewStandardLogger creates a logger that wraps the given *log.Logger at LevelInfo.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	s := &StandardLogger{logger: l}
	s.level.Store(int32(LevelInfo))
	return s
}

func (s *StandardLogger) enabled(l Level) bool {
	return l >= Level(s.level.Load())
}

// Debug logs a diagnostic message with [DEBUG] prefix.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if s.enabled(LevelDebug) {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	if s.enabled(LevelInfo) {
		s.logger.Printf("[INFO] "+format, args...)
	}
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	if s.enabled(LevelWarning) {
		s.logger.Printf("[WARNING] "+format, args...)
	}
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Level returns the current minimum level.
func (s *StandardLogger) Level() Level { return Level(s.level.Load()) }

// SetLevel changes the minimum level.
func (s *StandardLogger) SetLevel(l Level) { s.level.Store(int32(l)) }

// Close is a no-op for StandardLogger (no resources to release).
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

var (
	_ Logger  = (*StandardLogger)(nil)
	_ Leveled = (*StandardLogger)(nil)
	_ Logger  = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests and is safe for
// concurrent use, since managers log from worker goroutines.
type MockLogger struct {
	mu           sync.Mutex
	level        Level
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{level: LevelInfo}
}

func (m *MockLogger) record(dst *[]string, format string, args ...interface{}) {
	m.mu.Lock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.DebugCalls, format, args...)
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.InfoCalls, format, args...)
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.WarningCalls, format, args...)
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.ErrorCalls, format, args...)
}

// Warnings returns a copy of the recorded warning messages.
func (m *MockLogger) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WarningCalls...)
}

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Level returns the recorded level.
func (m *MockLogger) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// SetLevel records the new level.
func (m *MockLogger) SetLevel(l Level) {
	m.mu.Lock()
	m.level = l
	m.mu.Unlock()
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	m.CloseCalled = true
	m.mu.Unlock()
	return nil
}

var (
	_ Logger  = (*MockLogger)(nil)
	_ Leveled = (*MockLogger)(nil)
)
