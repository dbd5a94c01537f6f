package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clusterlift/clusterlift/internal/config"
)

// Setup initializes the logger with file and stderr output. format is
// "text" or "json".
func Setup(level, format, directory string) (*slog.Logger, error) {
	if directory == "" {
		directory = config.ExpandHome(config.HomeDir + "/logs/")
	} else {
		directory = config.ExpandHome(directory)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	filename := fmt.Sprintf("clusterlift-%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(directory, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return New(io.MultiWriter(os.Stderr, file), level, format), nil
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
