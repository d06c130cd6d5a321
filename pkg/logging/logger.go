// Package logging configures zerolog for forgesync.
//
// Levels are used as follows:
//
//	debug  every attempt, followed page, cache replay and quota update
//	info   resources starting and settling, throttling, command lifecycle
//	warn   retries, requests held for a quota reset, cache or tracker
//	       failures that fall back to a plain request, interrupted runs
//	error  resources that failed to sync and invalid configuration
//
// Entries carry a "component" field naming the emitting package; request
// scoped entries add "upstream" (github, jira) and "url", sync scoped
// entries add "resource".
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a configured level name.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var levels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Values of the "component" field.
const (
	ComponentExecutor     = "executor"
	ComponentPaginator    = "paginator"
	ComponentOrchestrator = "orchestrator"
	ComponentRateLimit    = "ratelimit"
	ComponentCache        = "cache"
	ComponentStore        = "store"
	ComponentMetrics      = "metrics"
	ComponentCLI          = "cli"
)

// Setup configures the global logger and level and returns the logger.
// Loggers created by NewLogger afterwards derive from it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// ParseLevel validates a configured level name. Matching is case
// insensitive, "warning" is accepted and an empty name means info.
func ParseLevel(s string) (LogLevel, error) {
	name := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := levels[name]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return name, nil
}

// zerologLevel maps level to zerolog, falling back to info for names
// ParseLevel would reject.
func zerologLevel(level LogLevel) zerolog.Level {
	if name, err := ParseLevel(string(level)); err == nil {
		return levels[name]
	}
	return zerolog.InfoLevel
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
