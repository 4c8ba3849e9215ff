package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"echocall/internal/config"
)

func TestNewHonorsLevel(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"console", "json"} {
		logger, err := New(config.LoggingConfig{Level: "warn", Format: format})
		if err != nil {
			t.Fatalf("%s: new failed: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s: expected info to be disabled at warn", format)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("%s: expected error to be enabled at warn", format)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
