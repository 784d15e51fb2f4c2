package logstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivematrix/helm/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "helm_logs.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entry(service string, level types.LogLevel, message string) types.LogEntry {
	return types.LogEntry{
		Timestamp:   time.Now().UTC(),
		ServiceName: service,
		Level:       level,
		Message:     message,
	}
}

func TestIngestAndQueryRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	batch := []types.LogEntry{
		{
			Timestamp:   base,
			ServiceName: "core",
			Level:       types.LevelInfo,
			Message:     "login succeeded",
			Context:     map[string]any{"realm": "hivematrix"},
			TraceID:     "trace-1",
			UserID:      "admin",
			Hostname:    "node1",
			ProcessID:   4242,
		},
		{
			Timestamp:   base.Add(time.Second),
			ServiceName: "codex",
			Level:       types.LevelError,
			Message:     "ticket sync failed",
		},
	}

	accepted, err := store.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)

	results, err := store.Query(ctx, types.LogFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Newest first.
	assert.Equal(t, "ticket sync failed", results[0].Message)

	got := results[1]
	assert.Equal(t, "core", got.ServiceName)
	assert.Equal(t, types.LevelInfo, got.Level)
	assert.Equal(t, base, got.Timestamp)
	assert.Equal(t, "hivematrix", got.Context["realm"])
	assert.Equal(t, "trace-1", got.TraceID)
	assert.Equal(t, "admin", got.UserID)
	assert.Equal(t, "node1", got.Hostname)
	assert.Equal(t, 4242, got.ProcessID)
	assert.Positive(t, got.ID)
}

func TestIngestRejectsMalformedBatchAtomically(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	batch := []types.LogEntry{
		entry("core", types.LevelInfo, "first"),
		entry("core", types.LevelInfo, "second"),
		entry("core", types.LevelInfo, ""), // malformed: empty message
	}

	accepted, err := store.Ingest(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Contains(t, err.Error(), "entry 2")
	assert.Zero(t, accepted)

	// The valid entries before the malformed one must not land either.
	results, err := store.Query(ctx, types.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIngestRejectsBadServiceAndLevel(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Ingest(ctx, []types.LogEntry{entry("Not A Slug", types.LevelInfo, "x")})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = store.Ingest(ctx, []types.LogEntry{entry("core", "LOUD", "x")})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestIngestRejectsOversizedBatch(t *testing.T) {
	store := testStore(t)

	batch := make([]types.LogEntry, MaxBatchSize+1)
	for i := range batch {
		batch[i] = entry("core", types.LevelInfo, "overflow")
	}

	_, err := store.Ingest(context.Background(), batch)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestIngestEmptyBatchIsNoop(t *testing.T) {
	store := testStore(t)

	accepted, err := store.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, accepted)
}

func TestIngestAssignsIDsInSubmissionOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Identical timestamps force the id to break the tie.
	stamp := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	batch := []types.LogEntry{
		{Timestamp: stamp, ServiceName: "core", Level: types.LevelInfo, Message: "one"},
		{Timestamp: stamp, ServiceName: "core", Level: types.LevelInfo, Message: "two"},
		{Timestamp: stamp, ServiceName: "core", Level: types.LevelInfo, Message: "three"},
	}
	_, err := store.Ingest(ctx, batch)
	require.NoError(t, err)

	results, err := store.Query(ctx, types.LogFilter{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Descending order means the last submitted entry comes first.
	assert.Equal(t, "three", results[0].Message)
	assert.Equal(t, "one", results[2].Message)
	assert.Greater(t, results[0].ID, results[1].ID)
	assert.Greater(t, results[1].ID, results[2].ID)

	// A later batch continues above the previous high-water mark.
	_, err = store.Ingest(ctx, []types.LogEntry{entry("core", types.LevelInfo, "four")})
	require.NoError(t, err)

	later, err := store.Query(ctx, types.LogFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Greater(t, later[0].ID, results[0].ID)
}

func TestQueryFilters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	batch := []types.LogEntry{
		{Timestamp: base, ServiceName: "core", Level: types.LevelDebug, Message: "core debug"},
		{Timestamp: base.Add(time.Minute), ServiceName: "core", Level: types.LevelError, Message: "core error", TraceID: "t-9"},
		{Timestamp: base.Add(2 * time.Minute), ServiceName: "codex", Level: types.LevelWarning, Message: "codex warn", UserID: "jdoe"},
		{Timestamp: base.Add(3 * time.Minute), ServiceName: "codex", Level: types.LevelCritical, Message: "codex critical"},
	}
	_, err := store.Ingest(ctx, batch)
	require.NoError(t, err)

	byService, err := store.Query(ctx, types.LogFilter{ServiceName: "core"})
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	byLevel, err := store.Query(ctx, types.LogFilter{MinLevel: types.LevelWarning})
	require.NoError(t, err)
	require.Len(t, byLevel, 3)
	for _, got := range byLevel {
		assert.GreaterOrEqual(t, got.Level.Severity(), types.LevelWarning.Severity())
	}

	byTrace, err := store.Query(ctx, types.LogFilter{TraceID: "t-9"})
	require.NoError(t, err)
	require.Len(t, byTrace, 1)
	assert.Equal(t, "core error", byTrace[0].Message)

	byUser, err := store.Query(ctx, types.LogFilter{UserID: "jdoe"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	window, err := store.Query(ctx, types.LogFilter{
		Since: base.Add(30 * time.Second),
		Until: base.Add(150 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, window, 2)

	combined, err := store.Query(ctx, types.LogFilter{
		ServiceName: "codex",
		MinLevel:    types.LevelCritical,
	})
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, "codex critical", combined[0].Message)
}

func TestQueryRejectsUnknownMinLevel(t *testing.T) {
	store := testStore(t)

	_, err := store.Query(context.Background(), types.LogFilter{MinLevel: "SHOUTING"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestQueryPagination(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	var batch []types.LogEntry
	for i := 0; i < 5; i++ {
		batch = append(batch, types.LogEntry{
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			ServiceName: "core",
			Level:       types.LevelInfo,
			Message:     string(rune('a' + i)),
		})
	}
	_, err := store.Ingest(ctx, batch)
	require.NoError(t, err)

	page, err := store.Query(ctx, types.LogFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].Message)
	assert.Equal(t, "c", page[1].Message)

	// Negative offset is treated as zero.
	first, err := store.Query(ctx, types.LogFilter{Limit: 1, Offset: -3})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "e", first[0].Message)
}

func TestWarnAliasNormalized(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Ingest(ctx, []types.LogEntry{entry("core", "WARN", "old style")})
	require.NoError(t, err)

	results, err := store.Query(ctx, types.LogFilter{MinLevel: types.LevelWarning})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.LevelWarning, results[0].Level)
}

func TestZeroTimestampStampedAtReceipt(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	_, err := store.Ingest(ctx, []types.LogEntry{{
		ServiceName: "core",
		Level:       types.LevelInfo,
		Message:     "no timestamp",
	}})
	require.NoError(t, err)

	results, err := store.Query(ctx, types.LogFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Timestamp.After(before))
}

func TestPurgeOlderThan(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -120)
	fresh := time.Now()

	_, err := store.Ingest(ctx, []types.LogEntry{
		{Timestamp: old, ServiceName: "core", Level: types.LevelInfo, Message: "ancient"},
		{Timestamp: old.Add(time.Hour), ServiceName: "core", Level: types.LevelInfo, Message: "still ancient"},
		{Timestamp: fresh, ServiceName: "core", Level: types.LevelInfo, Message: "recent"},
	})
	require.NoError(t, err)

	removed, err := store.PurgeOlderThan(ctx, time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	results, err := store.Query(ctx, types.LogFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recent", results[0].Message)
}

func TestQueryStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := store.Ingest(ctx, []types.LogEntry{
		{Timestamp: now, ServiceName: "core", Level: types.LevelError, Message: "boom"},
		{Timestamp: now, ServiceName: "core", Level: types.LevelError, Message: "boom again"},
		{Timestamp: now, ServiceName: "codex", Level: types.LevelInfo, Message: "fine"},
		{Timestamp: now.Add(-2 * time.Hour), ServiceName: "core", Level: types.LevelCritical, Message: "too old"},
	})
	require.NoError(t, err)

	stats, err := store.QueryStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByLevel[types.LevelError])
	assert.Equal(t, int64(1), stats.ByLevel[types.LevelInfo])
	assert.Zero(t, stats.ByLevel[types.LevelCritical])
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestRetentionDaysDefault(t *testing.T) {
	store := testStore(t)
	assert.Equal(t, DefaultRetentionDays, store.RetentionDays())
}
