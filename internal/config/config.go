// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	PushBaseURL string
	APIBaseURL  string
	AuthToken   string
	Role        domain.Role

	Reconnect        ReconnectConfig
	RecentAnswersCap int
	SSEKeepalive     time.Duration

	DevBackend DevBackendConfig
}

// ReconnectConfig controls the push channel reconnect policy.
type ReconnectConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DevBackendConfig configures the local stand-in producer.
type DevBackendConfig struct {
	Port         string
	DBPath       string
	PipelineStep time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	role, ok := domain.ParseRole(getEnv("ROLE", string(domain.RoleClient)))
	if !ok {
		return nil, fmt.Errorf("invalid configuration: ROLE must be one of client, expert, admin")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		PushBaseURL: strings.TrimRight(getEnv("PUSH_BASE_URL", "ws://localhost:9090"), "/"),
		APIBaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:9090"), "/"),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		Role:        role,
		Reconnect: ReconnectConfig{
			MaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
			Delay:       time.Duration(getEnvInt("RECONNECT_DELAY_MS", 3000)) * time.Millisecond,
		},
		RecentAnswersCap: getEnvInt("RECENT_ANSWERS_CAP", 50),
		SSEKeepalive:     time.Duration(getEnvInt("SSE_KEEPALIVE_SECONDS", 10)) * time.Second,
		DevBackend: DevBackendConfig{
			Port:         getEnv("DEV_BACKEND_PORT", "9090"),
			DBPath:       getEnv("DB_PATH", "./data/devbackend.db"),
			PipelineStep: time.Duration(getEnvInt("PIPELINE_STEP_MS", 1500)) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.PushBaseURL == "" {
		return fmt.Errorf("PUSH_BASE_URL cannot be empty")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if c.Reconnect.Delay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY_MS must be > 0")
	}
	if c.RecentAnswersCap <= 0 {
		return fmt.Errorf("RECENT_ANSWERS_CAP must be > 0")
	}
	if c.SSEKeepalive <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_SECONDS must be > 0")
	}
	if c.DevBackend.Port == "" {
		return fmt.Errorf("DEV_BACKEND_PORT cannot be empty")
	}
	if c.DevBackend.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DevBackend.PipelineStep <= 0 {
		return fmt.Errorf("PIPELINE_STEP_MS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// PushURL returns the role-scoped push endpoint for token, or "" when
// there is no session to authenticate.
func (c *Config) PushURL(role domain.Role, token string) string {
	if token == "" || !role.Valid() {
		return ""
	}
	return fmt.Sprintf("%s/ws/%s/?token=%s", c.PushBaseURL, role, url.QueryEscape(token))
}

// SnapshotURL returns the REST endpoint used to seed the live store.
func (c *Config) SnapshotURL(role domain.Role) string {
	return fmt.Sprintf("%s/api/%s/snapshot", c.APIBaseURL, role)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
