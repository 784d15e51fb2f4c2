package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	requestTimeout   = 10 * time.Second
	maxResponseBytes = 8 << 20
)

// Client calls the control API of a running orchestrator. It is safe
// for concurrent use; every call carries its own timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the control API at baseURL without
// credentials. Only the unauthenticated endpoints succeed until a
// token is attached; CLI commands that hit /api should use
// NewClientWithToken.
func NewClient(baseURL string) *Client {
	return NewClientWithToken(baseURL, "")
}

// NewClientWithToken creates a client that authenticates every request
// with the given bearer token.
func NewClientWithToken(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// Close releases pooled connections. The client must not be used
// afterwards.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// kindSentinels maps wire error kinds back to the sentinels the server
// derived them from, so callers can keep matching with errors.Is
// across the HTTP boundary.
var kindSentinels = map[string]error{
	"not_found":            types.ErrNotFound,
	"port_in_use":          types.ErrPortInUse,
	"already_running":      types.ErrAlreadyRunning,
	"spawn_failed":         types.ErrSpawnFailed,
	"start_timeout":        types.ErrStartTimeout,
	"stop_failed":          types.ErrStopFailed,
	"invalid_input":        types.ErrInvalidInput,
	"unauthorized":         types.ErrUnauthorized,
	"forbidden":            types.ErrForbidden,
	"upstream_unavailable": types.ErrUpstreamUnavailable,
}

// apiError reconstructs a typed error from a non-2xx response body.
func apiError(status int, body []byte) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		sentinel, known := kindSentinels[payload.Error]
		if !known {
			return fmt.Errorf("server error (%d): %s", status, payload.Message)
		}
		detail := strings.TrimSuffix(payload.Message, ": "+payload.Error)
		if detail == "" || detail == payload.Error {
			return sentinel
		}
		return fmt.Errorf("%s: %w", detail, sentinel)
	}
	return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
}

// doJSON performs one API round trip: marshal body, attach the token,
// decode into out. Transport failures surface as upstream_unavailable
// so the CLI exit-code mapping treats an unreachable orchestrator the
// same way the server treats an unreachable IDP.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, types.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// Health fetches the orchestrator's own health document. It needs no
// token, so it doubles as the readiness probe for remote commands.
func (c *Client) Health() (metrics.HealthDocument, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var doc metrics.HealthDocument
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil, &doc)
	return doc, err
}

// ServiceList is the catalog listing: names in install order plus the
// full manifest entries keyed by name.
type ServiceList struct {
	Services []string                      `json:"services"`
	Details  map[string]types.ServiceEntry `json:"details"`
}

// ListServices returns every registered service.
func (c *Client) ListServices() (ServiceList, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var list ServiceList
	err := c.doJSON(ctx, http.MethodGet, "/api/services", nil, nil, &list)
	return list, err
}

// Statuses returns the live status of every registered service.
func (c *Client) Statuses() (map[string]types.ServiceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var statuses map[string]types.ServiceStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/services/status", nil, nil, &statuses)
	return statuses, err
}

// Status returns the live status of one service.
func (c *Client) Status(name string) (types.ServiceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var status types.ServiceStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/services/"+url.PathEscape(name)+"/status", nil, nil, &status)
	return status, err
}

// modePayload is the optional start/restart body.
type modePayload struct {
	Mode types.RunMode `json:"mode"`
}

// lifecycle drives start and restart, which share shape: optional mode
// body, final status back. Start and stop waits happen server-side, so
// these calls outlive the usual request timeout.
func (c *Client) lifecycle(verb, name string, mode types.RunMode) (types.ServiceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var body any
	if mode != "" {
		body = modePayload{Mode: mode}
	}
	var status types.ServiceStatus
	err := c.doJSON(ctx, http.MethodPost, "/api/services/"+url.PathEscape(name)+"/"+verb, nil, body, &status)
	return status, err
}

// Start launches a service and waits for its port to open. An empty
// mode keeps the server default (production).
func (c *Client) Start(name string, mode types.RunMode) (types.ServiceStatus, error) {
	return c.lifecycle("start", name, mode)
}

// Restart stops then starts a service.
func (c *Client) Restart(name string, mode types.RunMode) (types.ServiceStatus, error) {
	return c.lifecycle("restart", name, mode)
}

// Stop terminates a service process.
func (c *Client) Stop(name string) (types.ServiceStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var status types.ServiceStatus
	err := c.doJSON(ctx, http.MethodPost, "/api/services/"+url.PathEscape(name)+"/stop", nil, nil, &status)
	return status, err
}

// ingestPayload mirrors the ingest endpoint's request shape.
type ingestPayload struct {
	ServiceName string           `json:"service_name,omitempty"`
	Logs        []types.LogEntry `json:"logs"`
}

// IngestLogs ships a batch of log entries attributed to serviceName.
// Service tokens may pass an empty name; the server attributes the
// batch to the calling service. Returns the number of rows stored.
func (c *Client) IngestLogs(serviceName string, entries []types.LogEntry) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var resp struct {
		Ingested int `json:"ingested"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/logs/ingest", nil,
		ingestPayload{ServiceName: serviceName, Logs: entries}, &resp)
	return resp.Ingested, err
}

// LogPage is one page of query results plus the total match count.
type LogPage struct {
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Logs   []types.LogEntry `json:"logs"`
}

// QueryLogs returns one page of centralized log entries matching the
// filter. Zero-valued filter fields are omitted from the query string.
func (c *Client) QueryLogs(filter types.LogFilter) (LogPage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	q := url.Values{}
	if filter.ServiceName != "" {
		q.Set("service", filter.ServiceName)
	}
	if filter.MinLevel != "" {
		q.Set("level", string(filter.MinLevel))
	}
	if filter.TraceID != "" {
		q.Set("trace_id", filter.TraceID)
	}
	if filter.UserID != "" {
		q.Set("user_id", filter.UserID)
	}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		q.Set("until", filter.Until.Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var page LogPage
	err := c.doJSON(ctx, http.MethodGet, "/api/logs", q, nil, &page)
	return page, err
}

// GetLog fetches a single log entry by id.
func (c *Client) GetLog(id int64) (types.LogEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var entry types.LogEntry
	err := c.doJSON(ctx, http.MethodGet, "/api/logs/"+strconv.FormatInt(id, 10), nil, nil, &entry)
	return entry, err
}

// LogStats returns entry counts by level since the cutoff. A zero
// since keeps the server default window of one hour.
func (c *Client) LogStats(since time.Time) (logstore.Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	var stats logstore.Stats
	err := c.doJSON(ctx, http.MethodGet, "/api/logs/stats", q, nil, &stats)
	return stats, err
}

// MetricPage is the stored-sample history for one service.
type MetricPage struct {
	ServiceName string               `json:"service_name"`
	Since       time.Time            `json:"since"`
	Until       time.Time            `json:"until"`
	Samples     []types.MetricSample `json:"samples"`
}

// MetricHistory returns stored resource samples for a service. Zero
// times keep the server default window (the last 24 hours); an empty
// metric name selects all metrics.
func (c *Client) MetricHistory(service, metric string, since, until time.Time, limit int) (MetricPage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	q := url.Values{}
	if metric != "" {
		q.Set("metric", metric)
	}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	if !until.IsZero() {
		q.Set("until", until.Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page MetricPage
	err := c.doJSON(ctx, http.MethodGet, "/api/metrics/"+url.PathEscape(service), q, nil, &page)
	return page, err
}

// Dashboard aggregates every service's status with its recent log
// volume by level.
type Dashboard struct {
	Statuses map[string]types.ServiceStatus      `json:"statuses"`
	LogStats map[string]map[types.LogLevel]int64 `json:"log_stats"`
}

// DashboardStatus returns the combined per-service status and log
// activity view.
func (c *Client) DashboardStatus() (Dashboard, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var dash Dashboard
	err := c.doJSON(ctx, http.MethodGet, "/api/dashboard/status", nil, nil, &dash)
	return dash, err
}

// GetConfig returns the master configuration with secrets redacted.
func (c *Client) GetConfig() (*types.MasterConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var cfg types.MasterConfig
	if err := c.doJSON(ctx, http.MethodGet, "/api/config", nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig applies a partial configuration update and returns the
// merged, redacted result. Redaction placeholders in the patch are
// ignored server-side, so a get-edit-update round trip cannot clobber
// stored secrets.
func (c *Client) UpdateConfig(patch map[string]any) (*types.MasterConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var cfg types.MasterConfig
	if err := c.doJSON(ctx, http.MethodPost, "/api/config", nil, patch, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BootstrapSummary reports which identity-provider bootstrap steps
// performed work. The client secret itself never crosses the API.
type BootstrapSummary struct {
	FrontendURL      string   `json:"frontend_url"`
	RealmCreated     bool     `json:"realm_created"`
	ClientCreated    bool     `json:"client_created"`
	GroupsCreated    []string `json:"groups_created"`
	MapperCreated    bool     `json:"mapper_created"`
	AdminUserCreated bool     `json:"admin_user_created"`
	ClientSecretSet  bool     `json:"client_secret_set"`
}

// BootstrapIDP reconciles the identity provider's realm, client,
// groups and admin account. Bootstrap talks to an external IDP and can
// be slow, so it gets a generous deadline.
func (c *Client) BootstrapIDP() (BootstrapSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var summary BootstrapSummary
	err := c.doJSON(ctx, http.MethodPost, "/api/idp/bootstrap", nil, nil, &summary)
	return summary, err
}
