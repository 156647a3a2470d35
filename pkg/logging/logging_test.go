package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/ravi-parthasarathy/pipedash/pkg/logging"
)

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "DEBUG", "INFO"} {
		if _, err := logging.New(lvl, "text"); err != nil {
			t.Errorf("New(%q, text): unexpected error: %v", lvl, err)
		}
	}
}

func TestNew_ValidFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "TEXT", "JSON"} {
		if _, err := logging.New("info", format); err != nil {
			t.Errorf("New(info, %q): unexpected error: %v", format, err)
		}
	}
}

func TestNew_LevelApplied(t *testing.T) {
	logger, err := logging.New("warn", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be filtered at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should pass at warn level")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := logging.New("verbose", "text"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	if _, err := logging.New("info", "xml"); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
