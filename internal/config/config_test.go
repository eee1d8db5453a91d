package config

import (
	"strings"
	"testing"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROLE", "client")
	t.Setenv("PUSH_BASE_URL", "ws://localhost:9090/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PushBaseURL != "ws://localhost:9090" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.PushBaseURL)
	}
	if cfg.Reconnect.MaxAttempts != 5 || cfg.Reconnect.Delay != 3*time.Second {
		t.Fatalf("unexpected reconnect policy: %+v", cfg.Reconnect)
	}
	if cfg.Role != domain.RoleClient {
		t.Fatalf("unexpected role %q", cfg.Role)
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	t.Setenv("ROLE", "superuser")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestLoadRejectsNonPositiveAttempts(t *testing.T) {
	t.Setenv("ROLE", "client")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "0")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "RECONNECT_MAX_ATTEMPTS") {
		t.Fatalf("expected RECONNECT_MAX_ATTEMPTS error, got %v", err)
	}
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("LIVESYNC_TEST_INT", "many")
	if got := getEnvInt("LIVESYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("LIVESYNC_TEST_INT", " 12 ")
	if got := getEnvInt("LIVESYNC_TEST_INT", 7); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestPushURL(t *testing.T) {
	cfg := &Config{PushBaseURL: "wss://push.example.com"}

	tests := []struct {
		name  string
		role  domain.Role
		token string
		want  string
	}{
		{"client", domain.RoleClient, "abc", "wss://push.example.com/ws/client/?token=abc"},
		{"expert", domain.RoleExpert, "t1", "wss://push.example.com/ws/expert/?token=t1"},
		{"admin", domain.RoleAdmin, "t2", "wss://push.example.com/ws/admin/?token=t2"},
		{"escaped token", domain.RoleClient, "a b&c", "wss://push.example.com/ws/client/?token=a+b%26c"},
		{"no session", domain.RoleClient, "", ""},
		{"unknown role", domain.Role("guest"), "abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.PushURL(tt.role, tt.token); got != tt.want {
				t.Fatalf("PushURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshotURL(t *testing.T) {
	cfg := &Config{APIBaseURL: "http://api.test"}
	if got := cfg.SnapshotURL(domain.RoleExpert); got != "http://api.test/api/expert/snapshot" {
		t.Fatalf("unexpected snapshot url %q", got)
	}
}
