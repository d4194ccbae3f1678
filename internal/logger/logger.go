package logger

import (
	"log/slog"
	"os"
	"strings"
)

func Init() {
	slog.SetDefault(slog.New(newHandler(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))))
}

func newHandler(levelName, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(levelName)}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
