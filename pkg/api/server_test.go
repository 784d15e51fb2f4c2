package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivematrix/helm/pkg/auth"
	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/metricstore"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	adminToken   = "admin-token"
	userToken    = "user-token"
	serviceToken = "service-token"
)

// stubBackend implements Catalog, Controller, LogStore, MetricHistory
// and Admin with canned data, recording what handlers asked for.
type stubBackend struct {
	mu sync.Mutex

	entries  []types.ServiceEntry
	statuses map[string]types.ServiceStatus

	lifecycleErr   error
	lifecycleCalls []string

	ingested    []types.LogEntry
	ingestErr   error
	lastFilter  types.LogFilter
	logs        []types.LogEntry
	total       int64
	byID        map[int64]types.LogEntry
	stats       logstore.Stats
	levelCounts map[string]map[types.LogLevel]int64

	samples   []types.MetricSample
	lastQuery metricstore.Query

	config    *types.MasterConfig
	lastPatch map[string]any
	bootstrap *idp.BootstrapResult
}

func (b *stubBackend) List() []types.ServiceEntry { return b.entries }

func (b *stubBackend) Get(name string) (types.ServiceEntry, error) {
	for _, e := range b.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return types.ServiceEntry{}, fmt.Errorf("service %s: %w", name, types.ErrNotFound)
}

func (b *stubBackend) Statuses() map[string]types.ServiceStatus { return b.statuses }

func (b *stubBackend) Status(name string) (types.ServiceStatus, error) {
	status, ok := b.statuses[name]
	if !ok {
		return types.ServiceStatus{}, fmt.Errorf("service %s: %w", name, types.ErrNotFound)
	}
	return status, nil
}

func (b *stubBackend) lifecycleOp(op, name string, mode types.RunMode) (types.ServiceStatus, error) {
	b.mu.Lock()
	b.lifecycleCalls = append(b.lifecycleCalls, fmt.Sprintf("%s %s %s", op, name, mode))
	b.mu.Unlock()
	if b.lifecycleErr != nil {
		return types.ServiceStatus{}, b.lifecycleErr
	}
	return types.ServiceStatus{ServiceName: name, Status: types.ProcessRunning}, nil
}

func (b *stubBackend) Start(_ context.Context, name string, mode types.RunMode) (types.ServiceStatus, error) {
	return b.lifecycleOp("start", name, mode)
}

func (b *stubBackend) Stop(_ context.Context, name string) (types.ServiceStatus, error) {
	return b.lifecycleOp("stop", name, "")
}

func (b *stubBackend) Restart(_ context.Context, name string, mode types.RunMode) (types.ServiceStatus, error) {
	return b.lifecycleOp("restart", name, mode)
}

func (b *stubBackend) Ingest(_ context.Context, entries []types.LogEntry) (int, error) {
	if b.ingestErr != nil {
		return 0, b.ingestErr
	}
	b.mu.Lock()
	b.ingested = append(b.ingested, entries...)
	b.mu.Unlock()
	return len(entries), nil
}

func (b *stubBackend) Query(_ context.Context, filter types.LogFilter) ([]types.LogEntry, error) {
	b.mu.Lock()
	b.lastFilter = filter
	b.mu.Unlock()
	return b.logs, nil
}

func (b *stubBackend) Count(context.Context, types.LogFilter) (int64, error) {
	return b.total, nil
}

func (b *stubBackend) Get2(_ context.Context, id int64) (types.LogEntry, error) {
	entry, ok := b.byID[id]
	if !ok {
		return types.LogEntry{}, fmt.Errorf("log entry %d: %w", id, types.ErrNotFound)
	}
	return entry, nil
}

func (b *stubBackend) QueryStats(_ context.Context, since time.Time) (logstore.Stats, error) {
	stats := b.stats
	stats.Since = since
	return stats, nil
}

func (b *stubBackend) ServiceLevelCounts(context.Context, time.Time) (map[string]map[types.LogLevel]int64, error) {
	return b.levelCounts, nil
}

func (b *stubBackend) QuerySamples(q metricstore.Query) ([]types.MetricSample, error) {
	b.mu.Lock()
	b.lastQuery = q
	b.mu.Unlock()
	return b.samples, nil
}

func (b *stubBackend) ConfigSnapshot() *types.MasterConfig { return b.config.Clone() }

func (b *stubBackend) UpdateConfig(_ context.Context, patch map[string]any) (*types.MasterConfig, error) {
	b.mu.Lock()
	b.lastPatch = patch
	b.mu.Unlock()
	return b.config.Clone(), nil
}

func (b *stubBackend) BootstrapIDP(context.Context) (*idp.BootstrapResult, error) {
	if b.bootstrap == nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", types.ErrUpstreamUnavailable)
	}
	return b.bootstrap, nil
}

// logsFacade adapts stubBackend to the LogStore interface; Get clashes
// with the catalog method, hence the rename.
type logsFacade struct{ *stubBackend }

func (l logsFacade) Get(ctx context.Context, id int64) (types.LogEntry, error) {
	return l.Get2(ctx, id)
}

// stubDirectory records IDP passthrough calls.
type stubDirectory struct {
	mu       sync.Mutex
	users    []idp.User
	groups   []idp.Group
	created  []idp.User
	password string
	setTo    []string
	delErr   error
}

func (d *stubDirectory) ListUsers(context.Context) ([]idp.User, error) { return d.users, nil }

func (d *stubDirectory) GetUser(_ context.Context, id string) (*idp.User, error) {
	for i := range d.users {
		if d.users[i].ID == id {
			return &d.users[i], nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", id, types.ErrNotFound)
}

func (d *stubDirectory) CreateUser(_ context.Context, user idp.User) (string, error) {
	if user.Username == "" || user.Email == "" {
		return "", fmt.Errorf("username and email are required: %w", types.ErrInvalidInput)
	}
	d.mu.Lock()
	d.created = append(d.created, user)
	d.mu.Unlock()
	return "new-user-id", nil
}

func (d *stubDirectory) UpdateUser(context.Context, string, map[string]any) error { return nil }

func (d *stubDirectory) DeleteUser(context.Context, string) error { return d.delErr }

func (d *stubDirectory) ResetPassword(_ context.Context, _, password string, _ bool) error {
	d.mu.Lock()
	d.password = password
	d.mu.Unlock()
	return nil
}

func (d *stubDirectory) ListGroups(context.Context) ([]idp.Group, error) { return d.groups, nil }

func (d *stubDirectory) UserGroups(context.Context, string) ([]idp.Group, error) {
	return d.groups, nil
}

func (d *stubDirectory) SetUserGroups(_ context.Context, _ string, desired []string) ([]string, []string, error) {
	d.mu.Lock()
	d.setTo = desired
	d.mu.Unlock()
	return desired, nil, nil
}

// stubVerifier resolves the three canned tokens.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, raw string) (*auth.Identity, error) {
	switch raw {
	case adminToken:
		return &auth.Identity{Subject: "admin-sub", Username: "admin", PermissionLevel: "admin"}, nil
	case userToken:
		return &auth.Identity{Subject: "user-sub", Username: "alice", PermissionLevel: "technician"}, nil
	case serviceToken:
		return &auth.Identity{Subject: "ledger", Service: true, CallingService: "ledger"}, nil
	default:
		return nil, fmt.Errorf("token rejected: %w", types.ErrUnauthorized)
	}
}

func newTestBackend() *stubBackend {
	return &stubBackend{
		entries: []types.ServiceEntry{
			{Name: "core", DisplayName: "Core", Port: 5000, InstallOrder: 1},
			{Name: "ledger", DisplayName: "Ledger", Port: 5100, InstallOrder: 30},
		},
		statuses: map[string]types.ServiceStatus{
			"core":   {ServiceName: "core", Status: types.ProcessRunning, Health: types.HealthHealthy},
			"ledger": {ServiceName: "ledger", Status: types.ProcessStopped, Health: types.HealthUnknown},
		},
		byID:        map[int64]types.LogEntry{},
		levelCounts: map[string]map[types.LogLevel]int64{},
		config: &types.MasterConfig{
			System: types.SystemConfig{Hostname: "localhost", SecretKey: "super-secret"},
			IdentityProvider: types.IdentityProviderConfig{
				URL:           "http://localhost:8080",
				Realm:         "hivematrix",
				ClientID:      "core-client",
				ClientSecret:  "idp-secret",
				AdminUsername: "admin",
				AdminPassword: "hunter2",
			},
			Apps: map[string]types.AppConfig{
				"ledger": {DBPassword: "db-pass"},
			},
		},
	}
}

func newTestServer(t *testing.T, backend *stubBackend, dir Directory) *httptest.Server {
	t.Helper()

	srv, err := NewServer(Config{
		Addr:     "127.0.0.1:0",
		Catalog:  backend,
		Control:  backend,
		Logs:     logsFacade{backend},
		History:  backend,
		Admin:    backend,
		Users:    dir,
		Verifier: stubVerifier{},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

// doJSON issues a request and decodes the JSON response body.
func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

func TestHealthUnauthenticated(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	status, body := doJSON(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "status")
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "unknown token", token: "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, ts, http.MethodGet, "/api/services", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "unauthorized", body["error"])
		})
	}
}

func TestAdminGate(t *testing.T) {
	backend := newTestBackend()
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/api/services/ledger/start", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])
	assert.Empty(t, backend.lifecycleCalls)

	// Admin user and service token both pass the gate.
	status, _ = doJSON(t, ts, http.MethodPost, "/api/services/ledger/start", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/api/services/ledger/stop", serviceToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestListServices(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/services", userToken, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, []any{"core", "ledger"}, body["services"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "core")
	assert.Contains(t, details, "ledger")
}

func TestServiceStatus(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/services/core/status", userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "running", body["status"])

	status, body = doJSON(t, ts, http.MethodGet, "/api/services/ghost/status", userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestLifecycleModeHandling(t *testing.T) {
	backend := newTestBackend()
	ts := newTestServer(t, backend, nil)

	status, _ := doJSON(t, ts, http.MethodPost, "/api/services/ledger/start", adminToken,
		map[string]string{"mode": "development"})
	require.Equal(t, http.StatusOK, status)

	// Empty body falls back to production.
	status, _ = doJSON(t, ts, http.MethodPost, "/api/services/ledger/restart", adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, ts, http.MethodPost, "/api/services/ledger/start", adminToken,
		map[string]string{"mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])

	backend.mu.Lock()
	calls := append([]string(nil), backend.lifecycleCalls...)
	backend.mu.Unlock()
	assert.Equal(t, []string{"start ledger development", "restart ledger production"}, calls)
}

func TestLifecycleErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "already running", err: fmt.Errorf("busy: %w", types.ErrAlreadyRunning), wantStatus: http.StatusConflict, wantKind: "already_running"},
		{name: "port in use", err: fmt.Errorf("port 5100: %w", types.ErrPortInUse), wantStatus: http.StatusUnprocessableEntity, wantKind: "port_in_use"},
		{name: "unknown service", err: fmt.Errorf("nope: %w", types.ErrNotFound), wantStatus: http.StatusNotFound, wantKind: "not_found"},
		{name: "spawn failure", err: fmt.Errorf("spawn: %w", types.ErrSpawnFailed), wantStatus: http.StatusInternalServerError, wantKind: "spawn_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend()
			backend.lifecycleErr = tt.err
			ts := newTestServer(t, backend, nil)

			status, body := doJSON(t, ts, http.MethodPost, "/api/services/ledger/start", adminToken, nil)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, body["error"])
		})
	}
}

func TestIngestLogs(t *testing.T) {
	t.Run("service token defaults the service name", func(t *testing.T) {
		backend := newTestBackend()
		ts := newTestServer(t, backend, nil)

		status, body := doJSON(t, ts, http.MethodPost, "/api/logs/ingest", serviceToken, map[string]any{
			"logs": []map[string]any{
				{"level": "INFO", "message": "started"},
				{"level": "ERROR", "message": "boom"},
			},
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(2), body["ingested"])

		backend.mu.Lock()
		defer backend.mu.Unlock()
		require.Len(t, backend.ingested, 2)
		assert.Equal(t, "ledger", backend.ingested[0].ServiceName)
		assert.Equal(t, "ledger", backend.ingested[1].ServiceName)
	})

	t.Run("user token without service name is rejected", func(t *testing.T) {
		ts := newTestServer(t, newTestBackend(), nil)

		status, body := doJSON(t, ts, http.MethodPost, "/api/logs/ingest", userToken, map[string]any{
			"logs": []map[string]any{{"level": "INFO", "message": "hi"}},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_input", body["error"])
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		ts := newTestServer(t, newTestBackend(), nil)

		status, _ := doJSON(t, ts, http.MethodPost, "/api/logs/ingest", userToken,
			map[string]any{"service_name": "core"})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("store rejection propagates", func(t *testing.T) {
		backend := newTestBackend()
		backend.ingestErr = fmt.Errorf("entry 0: bad level: %w", types.ErrInvalidInput)
		ts := newTestServer(t, backend, nil)

		status, _ := doJSON(t, ts, http.MethodPost, "/api/logs/ingest", serviceToken, map[string]any{
			"logs": []map[string]any{{"level": "NOISE", "message": "?"}},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestQueryLogs(t *testing.T) {
	backend := newTestBackend()
	backend.logs = []types.LogEntry{
		{ID: 2, ServiceName: "core", Level: types.LevelError, Message: "boom"},
	}
	backend.total = 41
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet,
		"/api/logs?service=core&level=ERROR&limit=5&offset=10&trace_id=tr-1", userToken, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, float64(41), body["total"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(10), body["offset"])
	logs, ok := body["logs"].([]any)
	require.True(t, ok)
	assert.Len(t, logs, 1)

	backend.mu.Lock()
	filter := backend.lastFilter
	backend.mu.Unlock()
	assert.Equal(t, "core", filter.ServiceName)
	assert.Equal(t, types.LevelError, filter.MinLevel)
	assert.Equal(t, 5, filter.Limit)
	assert.Equal(t, 10, filter.Offset)
	assert.Equal(t, "tr-1", filter.TraceID)
}

func TestQueryLogsBadParams(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	tests := []struct {
		name string
		path string
	}{
		{name: "bad since", path: "/api/logs?since=yesterday"},
		{name: "bad limit", path: "/api/logs?limit=lots"},
		{name: "negative offset", path: "/api/logs?offset=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, ts, http.MethodGet, tt.path, userToken, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "invalid_input", body["error"])
		})
	}
}

func TestGetLog(t *testing.T) {
	backend := newTestBackend()
	backend.byID[7] = types.LogEntry{ID: 7, ServiceName: "core", Level: types.LevelInfo, Message: "hello"}
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/logs/7", userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body["message"])

	status, _ = doJSON(t, ts, http.MethodGet, "/api/logs/99", userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, ts, http.MethodGet, "/api/logs/seven", userToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogStats(t *testing.T) {
	backend := newTestBackend()
	backend.stats = logstore.Stats{
		Total:   3,
		ByLevel: map[types.LogLevel]int64{types.LevelError: 2, types.LevelInfo: 1},
	}
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/logs/stats", userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])
}

func TestMetricHistory(t *testing.T) {
	backend := newTestBackend()
	backend.samples = []types.MetricSample{
		{ServiceName: "core", MetricName: "cpu_percent", Value: 12.5},
	}
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/metrics/core?metric=cpu_percent&limit=50", userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "core", body["service_name"])
	samples, ok := body["samples"].([]any)
	require.True(t, ok)
	assert.Len(t, samples, 1)

	backend.mu.Lock()
	q := backend.lastQuery
	backend.mu.Unlock()
	assert.Equal(t, "core", q.ServiceName)
	assert.Equal(t, "cpu_percent", q.MetricName)
	assert.Equal(t, 50, q.Limit)
	// Default window is 24h wide.
	assert.InDelta(t, 24*time.Hour, q.Until.Sub(q.Since), float64(time.Minute))

	status, _ = doJSON(t, ts, http.MethodGet, "/api/metrics/ghost", userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDashboard(t *testing.T) {
	backend := newTestBackend()
	backend.levelCounts = map[string]map[types.LogLevel]int64{
		"core": {types.LevelError: 4},
	}
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/dashboard/status", userToken, nil)
	require.Equal(t, http.StatusOK, status)

	statuses, ok := body["statuses"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, statuses, 2)

	logStats, ok := body["log_stats"].(map[string]any)
	require.True(t, ok)
	core, ok := logStats["core"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), core["ERROR"])
	// Quiet services still get a row.
	assert.Contains(t, logStats, "ledger")
}

func TestConfigRedaction(t *testing.T) {
	backend := newTestBackend()
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/config", adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	system := body["system"].(map[string]any)
	assert.Equal(t, redactedValue, system["secret_key"])
	idpSection := body["identity_provider"].(map[string]any)
	assert.Equal(t, redactedValue, idpSection["client_secret"])
	assert.Equal(t, redactedValue, idpSection["admin_password"])
	assert.Equal(t, "http://localhost:8080", idpSection["url"])
	apps := body["apps"].(map[string]any)
	ledger := apps["ledger"].(map[string]any)
	assert.Equal(t, redactedValue, ledger["db_password"])

	// Non-admin users may not read the config at all.
	status, _ = doJSON(t, ts, http.MethodGet, "/api/config", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestUpdateConfigStripsRedacted(t *testing.T) {
	backend := newTestBackend()
	ts := newTestServer(t, backend, nil)

	status, _ := doJSON(t, ts, http.MethodPost, "/api/config", adminToken, map[string]any{
		"system": map[string]any{
			"environment": "production",
			"secret_key":  redactedValue,
		},
	})
	require.Equal(t, http.StatusOK, status)

	backend.mu.Lock()
	patch := backend.lastPatch
	backend.mu.Unlock()
	system, ok := patch["system"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "production", system["environment"])
	assert.NotContains(t, system, "secret_key")
}

func TestBootstrapIDP(t *testing.T) {
	backend := newTestBackend()
	backend.bootstrap = &idp.BootstrapResult{
		FrontendURL:   "https://host.example/auth",
		ClientSecret:  "must-not-leak",
		RealmCreated:  true,
		GroupsCreated: []string{"admins"},
	}
	ts := newTestServer(t, backend, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/api/idp/bootstrap", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["realm_created"])
	assert.Equal(t, true, body["client_secret_set"])
	assert.NotContains(t, body, "client_secret")

	backend.bootstrap = nil
	status, body = doJSON(t, ts, http.MethodPost, "/api/idp/bootstrap", adminToken, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream_unavailable", body["error"])
}

func TestUserPassthrough(t *testing.T) {
	dir := &stubDirectory{
		users:  []idp.User{{ID: "u1", Username: "alice", Email: "alice@example.com"}},
		groups: []idp.Group{{ID: "g1", Name: "admins"}},
	}
	ts := newTestServer(t, newTestBackend(), dir)

	t.Run("list users", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodGet, "/api/idp/users", adminToken, nil)
		require.Equal(t, http.StatusOK, status)
		users, ok := body["users"].([]any)
		require.True(t, ok)
		assert.Len(t, users, 1)
	})

	t.Run("create with password and groups", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/idp/users", adminToken, map[string]any{
			"username": "bob",
			"email":    "bob@example.com",
			"password": "s3cret",
			"groups":   []string{"admins"},
		})
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "new-user-id", body["id"])

		dir.mu.Lock()
		defer dir.mu.Unlock()
		require.Len(t, dir.created, 1)
		assert.True(t, dir.created[0].Enabled, "enabled should default to true")
		assert.Equal(t, "s3cret", dir.password)
		assert.Equal(t, []string{"admins"}, dir.setTo)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodPost, "/api/idp/users", adminToken,
			map[string]any{"username": "nobody"})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("protected admin not deletable", func(t *testing.T) {
		dir.delErr = fmt.Errorf("cannot delete the admin account: %w", types.ErrForbidden)
		status, body := doJSON(t, ts, http.MethodDelete, "/api/idp/users/u1", adminToken, nil)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "forbidden", body["error"])
		dir.delErr = nil
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodDelete, "/api/idp/users/u1", adminToken, nil)
		assert.Equal(t, http.StatusNoContent, status)
	})

	t.Run("set groups reports changes", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPut, "/api/idp/users/u1/groups", adminToken,
			map[string]any{"groups": []string{"admins", "technicians"}})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, []any{"admins", "technicians"}, body["added"])
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodGet, "/api/idp/users", userToken, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestUserPassthroughWithoutIDP(t *testing.T) {
	ts := newTestServer(t, newTestBackend(), nil)

	status, body := doJSON(t, ts, http.MethodGet, "/api/idp/users", adminToken, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream_unavailable", body["error"])
}

func TestNewServerValidation(t *testing.T) {
	backend := newTestBackend()

	_, err := NewServer(Config{Addr: ""})
	assert.Error(t, err)

	_, err = NewServer(Config{
		Addr:    "127.0.0.1:0",
		Catalog: backend,
		Control: backend,
		Logs:    logsFacade{backend},
		Admin:   backend,
	})
	assert.Error(t, err, "missing verifier must be rejected")
}
