// Package snapshot fetches the initial dashboard state used to seed the
// live store before the push channel connects.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
)

// ErrUnauthorized is returned when the API rejects the session token.
var ErrUnauthorized = errors.New("snapshot: unauthorized")

const defaultTimeout = 10 * time.Second

// maxBodySize bounds the decoded snapshot body.
const maxBodySize = 4 << 20

// Client talks to the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. A nil httpClient gets a default
// with a 10 second timeout; a nil logger falls back to slog.Default().
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch returns the current snapshot for role as seen by token.
func (c *Client) Fetch(ctx context.Context, role domain.Role, token string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if !role.Valid() {
		return snap, fmt.Errorf("snapshot: unknown role %q", role)
	}

	url := fmt.Sprintf("%s/api/%s/snapshot", c.baseURL, role)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return snap, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("fetch snapshot: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}

	c.logger.Debug("Fetched snapshot",
		"role", role,
		"questions", len(snap.Questions),
		"recent_answers", len(snap.RecentAnswers),
	)
	return snap, nil
}
