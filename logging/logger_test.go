package logging

import (
	"context"
	"fmt"
	"testing"

	"github.com/roomsync/roomsync/errors"
)

func TestNewLogger_LevelParsing(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := NewLogger(Config{Level: level, Format: "text"})
		if logger == nil || logger.Logger == nil {
			t.Fatalf("NewLogger returned nil for level %q", level)
		}
	}
}

func TestDefault_Initializes(t *testing.T) {
	defaultLogger = nil
	if Default() == nil {
		t.Fatal("Default returned nil")
	}
}

func TestWithComponent(t *testing.T) {
	logger := Nop().WithComponent("lock-manager")
	if logger == nil {
		t.Fatal("WithComponent returned nil")
	}
	// Must not panic with structured sync errors
	logger.LogError(context.Background(), errors.NewNetworkError(errors.OpPull, fmt.Errorf("timeout")), "pull failed")
	logger.LogError(context.Background(), fmt.Errorf("plain"), "plain error")
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", "test")

	config := GetConfigFromEnv()
	if config.Format != "text" {
		t.Errorf("expected text format, got %q", config.Format)
	}
	// Test environment forces error level
	if config.Level != "error" {
		t.Errorf("expected error level in test env, got %q", config.Level)
	}
}
