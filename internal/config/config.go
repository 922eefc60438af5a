package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server    ServerConfig
	Feed      FeedConfig
	Assistant AssistantConfig
	Sync      SyncConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// FeedConfig describes the hosted realtime channel.
type FeedConfig struct {
	NatsURL    string
	StreamName string
}

// Enabled reports whether a realtime backend is configured; without one the
// service runs on the in-memory feed.
func (c FeedConfig) Enabled() bool { return c.NatsURL != "" }

// AssistantConfig describes the assistant collaborator endpoint.
type AssistantConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Streaming bool
	Timeout   time.Duration
}

// Enabled reports whether an upstream assistant is configured.
func (c AssistantConfig) Enabled() bool { return c.BaseURL != "" }

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	ViewerID        string
	TypingTTL       time.Duration
	PresenceTTL     time.Duration
	AckTimeout      time.Duration
	HistoryLimit    int
	WatermarkDBPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	assistantStream, err := parseBoolEnv("ASSISTANT_STREAM", true)
	if err != nil {
		return nil, err
	}
	assistantTimeout, err := parseSecondsEnv("ASSISTANT_TIMEOUT_SECONDS", 60*time.Second)
	if err != nil {
		return nil, err
	}
	typingTTL, err := parseSecondsEnv("TYPING_TTL_SECONDS", 4*time.Second)
	if err != nil {
		return nil, err
	}
	presenceTTL, err := parseSecondsEnv("PRESENCE_TTL_SECONDS", 30*time.Second)
	if err != nil {
		return nil, err
	}
	ackTimeout, err := parseSecondsEnv("SEND_ACK_TIMEOUT_SECONDS", 10*time.Second)
	if err != nil {
		return nil, err
	}
	historyLimit, err := parseIntEnv("HISTORY_LIMIT", 50)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Feed: FeedConfig{
			NatsURL:    strings.TrimSpace(os.Getenv("NATS_URL")),
			StreamName: getEnvOrDefault("NATS_STREAM", "REALTIME_MESSAGES"),
		},
		Assistant: AssistantConfig{
			BaseURL:   strings.TrimSpace(os.Getenv("ASSISTANT_BASE_URL")),
			APIKey:    strings.TrimSpace(os.Getenv("ASSISTANT_API_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ASSISTANT_MODEL")),
			Streaming: assistantStream,
			Timeout:   assistantTimeout,
		},
		Sync: SyncConfig{
			ViewerID:        getEnvOrDefault("VIEWER_ID", "viewer"),
			TypingTTL:       typingTTL,
			PresenceTTL:     presenceTTL,
			AckTimeout:      ackTimeout,
			HistoryLimit:    historyLimit,
			WatermarkDBPath: strings.TrimSpace(os.Getenv("WATERMARK_DB_PATH")),
		},
	}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Addr: ":" + port}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be a positive number of seconds", key, raw)
	}
	return time.Duration(val) * time.Second, nil
}
