package logger

// MultiLogger broadcasts log messages to multiple Logger backends.
// Useful for logging to both the console and a log file simultaneously.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to all provided backends.
// Messages are written to each logger in order.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Debug logs a diagnostic message to all backends.
func (m *MultiLogger) Debug(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Debug(format, args...)
	}
}

// Info logs an informational message to all backends.
func (m *MultiLogger) Info(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Info(format, args...)
	}
}

// Warning logs a warning message to all backends.
func (m *MultiLogger) Warning(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Warning(format, args...)
	}
}

// Error logs an error message to all backends.
func (m *MultiLogger) Error(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Error(format, args...)
	}
}

// Level reports the most verbose level among leveled backends.
// Backends without levels are ignored; with none it reports LevelInfo.
func (m *MultiLogger) Level() Level {
	lvl, found := LevelError, false
	for _, l := range m.loggers {
		if lv, ok := l.(Leveled); ok {
			found = true
			if cur := lv.Level(); cur < lvl {
				lvl = cur
			}
		}
	}
	if !found {
		return LevelInfo
	}
	return lvl
}

// SetLevel forwards the level to every leveled backend.
func (m *MultiLogger) SetLevel(lvl Level) {
	for _, l := range m.loggers {
		if lv, ok := l.(Leveled); ok {
			lv.SetLevel(lvl)
		}
	}
}

// Close closes all logger backends.
// Returns the first error encountered, but attempts to close all loggers.
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ Logger  = (*MultiLogger)(nil)
	_ Leveled = (*MultiLogger)(nil)
)
