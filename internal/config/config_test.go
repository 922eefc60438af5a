package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "NATS_URL", "NATS_STREAM", "ASSISTANT_BASE_URL", "ASSISTANT_STREAM",
		"ASSISTANT_TIMEOUT_SECONDS", "VIEWER_ID", "TYPING_TTL_SECONDS",
		"PRESENCE_TTL_SECONDS", "SEND_ACK_TIMEOUT_SECONDS", "HISTORY_LIMIT", "WATERMARK_DB_PATH",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Feed.Enabled() {
		t.Fatal("feed should be disabled without NATS_URL")
	}
	if cfg.Feed.StreamName != "REALTIME_MESSAGES" {
		t.Fatalf("stream name = %q", cfg.Feed.StreamName)
	}
	if cfg.Assistant.Enabled() {
		t.Fatal("assistant should be disabled without a base URL")
	}
	if !cfg.Assistant.Streaming {
		t.Fatal("assistant streaming should default on")
	}
	if cfg.Sync.ViewerID != "viewer" {
		t.Fatalf("viewer id = %q", cfg.Sync.ViewerID)
	}
	if cfg.Sync.TypingTTL != 4*time.Second || cfg.Sync.PresenceTTL != 30*time.Second {
		t.Fatalf("presence ttls = %v / %v", cfg.Sync.TypingTTL, cfg.Sync.PresenceTTL)
	}
	if cfg.Sync.HistoryLimit != 50 {
		t.Fatalf("history limit = %d", cfg.Sync.HistoryLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("ASSISTANT_BASE_URL", "http://assistant.internal/v1/chat")
	t.Setenv("ASSISTANT_STREAM", "false")
	t.Setenv("TYPING_TTL_SECONDS", "7")
	t.Setenv("HISTORY_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Feed.Enabled() {
		t.Fatal("feed should be enabled")
	}
	if !cfg.Assistant.Enabled() || cfg.Assistant.Streaming {
		t.Fatalf("assistant config = %+v", cfg.Assistant)
	}
	if cfg.Sync.TypingTTL != 7*time.Second {
		t.Fatalf("typing ttl = %v", cfg.Sync.TypingTTL)
	}
	if cfg.Sync.HistoryLimit != 25 {
		t.Fatalf("history limit = %d", cfg.Sync.HistoryLimit)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TYPING_TTL_SECONDS", "-3")
	if _, err := Load(); err == nil {
		t.Fatal("negative ttl should be rejected")
	}
	t.Setenv("TYPING_TTL_SECONDS", "")

	t.Setenv("ASSISTANT_STREAM", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("non-boolean stream flag should be rejected")
	}
}
