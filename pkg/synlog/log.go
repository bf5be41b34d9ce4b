// Package synlog provides leveled logging for the synapsegraph engine.
//
// Contract errors (see the engine's error taxonomy) are absorbed locally
// and reported here at warn level rather than returned to the caller.
// Numerical errors are not logged: stats.Service.Update drops NaN and Inf
// samples silently. Structural and resource errors are returned to the
// caller and not logged by the engine.
package synlog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level is a logging verbosity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a Level, defaulting to LevelInfo for anything unrecognised.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	currentLevel = LevelInfo
	logger       = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel sets the package-wide logging threshold.
func SetLevel(l Level) {
	currentLevel = l
}

// Debugf logs a debug-level message.
func Debugf(format string, args ...any) {
	logAt(LevelDebug, "DEBUG", format, args...)
}

// Infof logs an info-level message.
func Infof(format string, args ...any) {
	logAt(LevelInfo, "INFO", format, args...)
}

// Warnf logs a warn-level message.
//
// Contract errors (out-of-range caller arguments, silently normalised)
// are logged at this level.
func Warnf(format string, args ...any) {
	logAt(LevelWarn, "WARN", format, args...)
}

// Errorf logs an error-level message.
//
// No engine code path logs at this level; NaN and Inf samples, which
// stats.Service.Update drops, are not logged.
func Errorf(format string, args ...any) {
	logAt(LevelError, "ERROR", format, args...)
}

func logAt(level Level, tag, format string, args ...any) {
	if currentLevel > level {
		return
	}
	logger.Println(tag + ": " + fmt.Sprintf(format, args...))
}
