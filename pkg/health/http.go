package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker probes a backend server's health endpoint. Beyond the status
// code it verifies identity: the response body must carry a serverId equal
// to the id the server registered under, otherwise the peer answering is
// not the peer we registered and the check fails.
type HTTPChecker struct {
	// URL is the full HTTP URL to check (e.g., "http://backend:8080/health")
	URL string

	// ExpectedServerID, when set, must match the serverId reported in the
	// response body
	ExpectedServerID string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// healthBody covers the field spellings backends use for their identity.
type healthBody struct {
	ServerID  string `json:"serverId"`
	ServerID2 string `json:"server_id"`
	ID        string `json:"id"`
}

func (b healthBody) id() string {
	if b.ServerID != "" {
		return b.ServerID
	}
	if b.ServerID2 != "" {
		return b.ServerID2
	}
	return b.ID
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url, expectedServerID string) *HTTPChecker {
	return &HTTPChecker{
		URL:              url,
		ExpectedServerID: expectedServerID,
		Headers:          make(map[string]string),
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check performs the HTTP health check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	var body healthBody
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		// Identity is best-effort parsed; a non-JSON body simply yields
		// an empty serverId, which fails the match below.
		_ = json.Unmarshal(data, &body)
	}
	reported := body.id()

	if h.ExpectedServerID != "" && reported != h.ExpectedServerID {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("identity mismatch: endpoint reports %q, registered as %q", reported, h.ExpectedServerID),
			ServerID:  reported,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		ServerID:  reported,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
