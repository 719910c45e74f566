package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport sends JSON requests to a tinyuptime server.
type Transport interface {
	// Do sends body (if non-nil) as JSON and decodes a 2xx response into out
	// (if non-nil).
	Do(ctx context.Context, method, path string, body, out any) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string

	// Applied is set when the server counted the request before failing.
	Applied bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// Temporary reports whether retrying the same request later may succeed.
// A request the server already applied is never retried.
func (e *StatusError) Temporary() bool {
	if e.Applied {
		return false
	}
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a network failure or a retryable status.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// IsApplied reports whether err is a failure the server returned after
// counting the request.
func IsApplied(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Applied
}

// HTTPTransport implements Transport using HTTP
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates a new HTTP transport for the server at baseURL
// (e.g. http://localhost:8080).
func NewHTTP(baseURL, apiKey string) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", baseURL)
	}

	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Applied bool   `json:"applied"`
		}
		// Best effort; the status code alone is enough to act on.
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Message, Applied: e.Applied}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
