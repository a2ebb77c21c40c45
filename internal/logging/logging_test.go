package logging_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shellqueue/jobmgr/internal/logging"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobmgr.log")

	logger, closer, err := logging.NewLogger(path, "info")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	logger.Info("added job", "id", 1)

	if err := closer.Close(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if !strings.Contains(string(data), "added job") {
		t.Errorf("expected log record in file: got '%s'", data)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobmgr.log")

	logger, closer, err := logging.NewLogger(path, "warn")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	logger.Info("suppressed")
	logger.Warn("kept")

	if err := closer.Close(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if strings.Contains(string(data), "suppressed") {
		t.Errorf("expected info record to be suppressed: got '%s'", data)
	}

	if !strings.Contains(string(data), "kept") {
		t.Errorf("expected warn record to be kept: got '%s'", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}

	for input, want := range tests {
		if got := logging.ParseLevel(input); got != want {
			t.Errorf("expected level for %q: got '%v', want '%v'", input, got, want)
		}
	}
}
