package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultBackendURL is the hosted devark API.
const DefaultBackendURL = "https://app.devark.ai/api"

// ErrUnauthorized is returned when the backend rejects the token.
var ErrUnauthorized = errors.New("backend rejected token")

// UploadResult is the backend reply to one batch.
type UploadResult struct {
	Success           bool `json:"success"`
	SessionsProcessed int  `json:"sessionsProcessed"`
}

// Backend is the remote API the pipeline talks to.
type Backend interface {
	HasToken() bool
	VerifyToken(ctx context.Context) (bool, error)
	LastSessionTimestamp(ctx context.Context) (*time.Time, error)
	UploadSessions(ctx context.Context, sessions []SanitizedSession) (UploadResult, error)
}

// Client implements Backend over HTTP with bearer auth.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a client. An empty baseURL selects DefaultBackendURL.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBackendURL
	}
	return &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// HasToken reports whether a token is configured.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// VerifyToken asks the backend whether the token is valid. A 401 or 403 is
// a definitive false; other failures are errors.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	var body struct {
		Valid *bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/verify", nil, &body)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return body.Valid == nil || *body.Valid, nil
}

// LastSessionTimestamp returns the start time of the newest uploaded session, if any.
func (c *Client) LastSessionTimestamp(ctx context.Context) (*time.Time, error) {
	var body struct {
		LastSessionTimestamp *time.Time `json:"lastSessionTimestamp"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/last", nil, &body); err != nil {
		return nil, err
	}
	return body.LastSessionTimestamp, nil
}

// UploadSessions posts one batch.
func (c *Client) UploadSessions(ctx context.Context, sessions []SanitizedSession) (UploadResult, error) {
	var res UploadResult
	err := c.do(ctx, http.MethodPost, "/sessions", sessions, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
