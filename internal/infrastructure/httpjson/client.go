// Package httpjson posts JSON to external collaborators and classifies their failures.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TopicPulse/internal/domain"
)

// Client is bound to one collaborator name, which tags every error it returns.
type Client struct {
	collaborator string
	apiKey       string
	http         *http.Client
}

// New creates a reusable HTTP client; apiKey is sent as a bearer token when set.
func New(collaborator, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		collaborator: collaborator,
		apiKey:       apiKey,
		http:         &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Post sends payload to url and decodes the 2xx body into v (nil discards it).
// Network failures, 408, 429 and 5xx are transient; other statuses are permanent;
// an undecodable body is transient.
func (c *Client) Post(ctx context.Context, url string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.PermanentError(c.collaborator, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.PermanentError(c.collaborator, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.TransientError(c.collaborator, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if err := StatusError(c.collaborator, resp); err != nil {
		return err
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.TransientError(c.collaborator, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// StatusError classifies a non-2xx response; it returns nil for 2xx.
func StatusError(collaborator string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	if Retryable(resp.StatusCode) {
		return domain.TransientError(collaborator, err)
	}
	return domain.PermanentError(collaborator, err)
}

// Retryable reports whether a response status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
