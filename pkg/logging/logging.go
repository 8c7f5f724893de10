package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const EnvLogLevel = "WASTESORT_LOG_LEVEL"

var level = new(slog.LevelVar)

// Configure installs a text handler on stdout as the default slog logger.
// The level comes from the WASTESORT_LOG_LEVEL environment variable when it
// is set, otherwise from configured (e.g. "debug", "warn").
func Configure(configured string) {
	ConfigureTo(os.Stdout, configured)
}

func ConfigureTo(w io.Writer, configured string) {
	if env := os.Getenv(EnvLogLevel); env != "" {
		configured = env
	}
	level.Set(ParseLevel(configured))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name to a slog level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func SetLevel(l slog.Level) {
	level.Set(l)
}
