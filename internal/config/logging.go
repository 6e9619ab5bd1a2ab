package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

func noClose() error { return nil }

// SetupLogger logs text to stderr and, when logFile is set, JSON lines to
// that file as well. Missing parent directories of logFile are created. If
// the file still cannot be opened the logger stays on stderr and says so.
// The returned function closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	console := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if logFile == "" {
		return console, noClose
	}

	file, err := openLogFile(logFile)
	if err != nil {
		console.Warn("rackpatch log file unavailable, continuing on stderr",
			"log_file", logFile, "env", "RACKPATCH_LOG_FILE", "error", err)
		return console, noClose
	}
	return SetupLoggerWithWriters(os.Stderr, file, level), file.Close
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// SetupLoggerWithWriters fans records out to a text console and a JSON file.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, opts),
		slog.NewJSONHandler(file, opts),
	))
}
