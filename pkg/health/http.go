package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

// DefaultHTTPTimeout bounds a single health request. Services answer
// /health from memory; anything slower than this is effectively down.
const DefaultHTTPTimeout = 2 * time.Second

// maxHealthBody caps how much of a health response we read. A health
// document is a few hundred bytes; a service streaming megabytes at us
// is broken.
const maxHealthBody = 64 * 1024

// healthDocument is the JSON shape services return from /health.
type healthDocument struct {
	Status string                     `json:"status"`
	Checks map[string]json.RawMessage `json:"checks,omitempty"`
}

// HTTPChecker probes a service's /health endpoint and interprets its
// JSON health document. Only a 200 with status "healthy" or "degraded"
// counts as reachable; everything else, including unparseable bodies,
// is unreachable.
type HTTPChecker struct {
	// URL is the full health endpoint URL
	URL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a checker for a service base URL.
func NewHTTPChecker(baseURL string) *HTTPChecker {
	return &HTTPChecker{
		URL: strings.TrimRight(baseURL, "/") + "/health",
		Client: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
	}
}

// Check performs the HTTP health probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return failure(start, fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failure(start, "no response from service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(start, fmt.Sprintf("HTTP %d from health endpoint", resp.StatusCode))
	}

	var doc healthDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxHealthBody)).Decode(&doc); err != nil {
		return failure(start, fmt.Sprintf("unparseable health document: %v", err))
	}

	switch doc.Status {
	case "healthy":
		return Result{
			State:     types.HealthHealthy,
			Message:   "service reports healthy",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	case "degraded":
		return Result{
			State:     types.HealthDegraded,
			Message:   "service reports degraded",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	default:
		return failure(start, fmt.Sprintf("unexpected health status %q", doc.Status))
	}
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
