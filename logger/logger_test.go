package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/testutils"
)

func TestMockLogger(t *testing.T) {
	l := testutils.NewMockLogger()
	l.Info("hello", logger.String("k", "v"))
	if got := l.LastMessage(); got != "hello" {
		t.Fatalf("expected last message 'hello', got %q", got)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := logger.New(logger.Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l, err := logger.New(logger.Options{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("order_submitted", logger.Float64("qty", 0.5))
	_ = logger.Sync(l) // stdout may refuse fsync
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"order_submitted"`) {
		t.Fatalf("log file missing entry: %s", raw)
	}
}
