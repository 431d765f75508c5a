package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL. Accepted forms are the slog names in any
// case ("debug", "INFO", "warn", "error"), "warning", and offsets such as
// "info+2". Unset or malformed values yield fallback.
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(Get("LOG_LEVEL", ""))
	if raw == "" {
		return fallback
	}
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
