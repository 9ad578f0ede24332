package config_test

import (
	"testing"
	"time"

	"github.com/ShashankBejjanki1241/GIZMO/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIZMO_DATA_DIR", t.TempDir())
	// Clear knobs that may leak from the environment.
	for _, key := range []string{
		"GIZMO_ADDR", "GIZMO_MODEL", "GIZMO_DEBUG", "GIZMO_MAX_RETRIES",
		"GIZMO_MAX_MEMORIES", "GIZMO_COMMAND_TIMEOUT",
		"SLACK_BOT_TOKEN", "SLACK_CHANNEL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":8001" {
		t.Errorf("ServerAddr = %q, want :8001", cfg.ServerAddr)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want gpt-4o-mini", cfg.Model)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.MaxMemories != 100 {
		t.Errorf("MaxMemories = %d, want 100", cfg.MaxMemories)
	}
	if cfg.CommandTimeout != 30*time.Second {
		t.Errorf("CommandTimeout = %v, want 30s", cfg.CommandTimeout)
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
	if cfg.SlackEnabled() || cfg.TelegramEnabled() {
		t.Error("notifiers should be disabled by default")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GIZMO_DATA_DIR", t.TempDir())
	t.Setenv("GIZMO_ADDR", ":9999")
	t.Setenv("GIZMO_MODEL", "gpt-4o")
	t.Setenv("GIZMO_DEBUG", "true")
	t.Setenv("GIZMO_MAX_RETRIES", "5")
	t.Setenv("GIZMO_COMMAND_TIMEOUT", "10s")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_CHANNEL", "#builds")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":9999" {
		t.Errorf("ServerAddr = %q, want :9999", cfg.ServerAddr)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Model)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want 10s", cfg.CommandTimeout)
	}
	if !cfg.SlackEnabled() {
		t.Error("Slack should be enabled with token and channel set")
	}
}
