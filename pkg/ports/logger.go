// Package ports defines the interfaces between the encode core and its collaborators.
package ports

import "strings"

// LogLevel orders log messages by severity. A logger prints messages at or
// above its level.
type LogLevel int

const (
	// LevelDebug covers per-buffer traffic inside the component.
	LevelDebug LogLevel = iota
	// LevelInfo covers pipeline progress.
	LevelInfo
	// LevelWarn covers problems the encoder recovers from, such as a
	// rejected optional control.
	LevelWarn
	// LevelError covers failures that end the run.
	LevelError
	// LevelQuiet prints nothing.
	LevelQuiet
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelQuiet: "quiet",
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLogLevel maps a level name to its LogLevel, ignoring case.
// "warning" is accepted for warn. Unknown names give LevelInfo.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for l, name := range levelNames {
		if name == s {
			return LogLevel(l)
		}
	}
	return LevelInfo
}

// Logger receives printf-style messages. msg doubles as the translation key
// for the l10n catalog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// WithComponent returns a logger that tags every message with component,
	// e.g. "encoder" or "poller".
	WithComponent(component string) Logger
}
