package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

type Logger struct {
	level  int
	prefix string
	out    *log.Logger
}

func New(level string) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit destination, used by tests to capture output.
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		level: parseLevel(level),
		out:   log.New(w, "", log.LstdFlags),
	}
}

func parseLevel(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Level returns the configured level name.
func (l *Logger) Level() string {
	switch l.level {
	case levelDebug:
		return "debug"
	case levelWarn:
		return "warn"
	case levelError:
		return "error"
	default:
		return "info"
	}
}

// WithPrefix returns a logger sharing the destination that tags every line with extra.
func (l *Logger) WithPrefix(extra string) *Logger {
	prefix := extra
	if l.prefix != "" {
		prefix = l.prefix + " " + extra
	}
	return &Logger{level: l.level, prefix: prefix, out: l.out}
}

func (l *Logger) printf(tag, msg string, args ...interface{}) {
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}
	l.out.Printf(tag+" "+msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= levelDebug {
		l.printf("[DEBUG]", msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= levelInfo {
		l.printf("[INFO]", msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= levelWarn {
		l.printf("[WARN]", msg, args...)
	}
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.printf("[ERROR]", msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.printf("[FATAL]", msg, args...)
	os.Exit(1)
}

// Writer returns the destination of the logger, for libraries that log on their own.
func (l *Logger) Writer() io.Writer {
	return l.out.Writer()
}
