package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a *logrus.Logger to Logger and Leveled.
// Fields attached via WithField are carried on every message.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a text-formatted logrus logger writing to w at LevelInfo.
func NewLogrusLogger(w io.Writer) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// NewLogrusLoggerFrom wraps an existing logrus logger.
func NewLogrusLoggerFrom(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// WithField returns a logger that annotates every message with key=value.
// The returned logger shares the level of its parent.
func (l *LogrusLogger) WithField(key string, value interface{}) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *LogrusLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *LogrusLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) Warning(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *LogrusLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Level maps the logrus level back onto Level.
func (l *LogrusLogger) Level() Level {
	switch l.entry.Logger.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarning
	default:
		return LevelError
	}
}

// SetLevel changes the level of the underlying logrus logger.
func (l *LogrusLogger) SetLevel(lvl Level) {
	var ll logrus.Level
	switch lvl {
	case LevelDebug:
		ll = logrus.DebugLevel
	case LevelInfo:
		ll = logrus.InfoLevel
	case LevelWarning:
		ll = logrus.WarnLevel
	default:
		ll = logrus.ErrorLevel
	}
	l.entry.Logger.SetLevel(ll)
}

// Close is a no-op; the writer belongs to the caller.
func (l *LogrusLogger) Close() error {
	return nil
}

var (
	_ Logger  = (*LogrusLogger)(nil)
	_ Leveled = (*LogrusLogger)(nil)
)
