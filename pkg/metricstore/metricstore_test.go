package metricstore

import (
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
		Path:   filepath.Join(t.TempDir(), "helm_metrics.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sample(service, metric string, ts time.Time, value float64) types.MetricSample {
	return types.MetricSample{
		ServiceName: service,
		Timestamp:   ts,
		MetricName:  metric,
		Value:       value,
	}
}

func TestRecordAndQueryNewestFirst(t *testing.T) {
	store := testStore(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record([]types.MetricSample{
		sample("core", "cpu_percent", base, 10),
		sample("core", "cpu_percent", base.Add(5*time.Second), 20),
		sample("core", "cpu_percent", base.Add(10*time.Second), 30),
	}))

	results, err := store.QuerySamples(Query{ServiceName: "core"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 30.0, results[0].Value)
	assert.Equal(t, 10.0, results[2].Value)
	assert.Equal(t, base.Add(10*time.Second), results[0].Timestamp)
}

func TestQueryFiltersByMetricAndRange(t *testing.T) {
	store := testStore(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	var samples []types.MetricSample
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		samples = append(samples,
			sample("codex", "cpu_percent", ts, float64(i)),
			sample("codex", "memory_mb", ts, float64(100+i)),
		)
	}
	require.NoError(t, store.Record(samples))

	cpu, err := store.QuerySamples(Query{ServiceName: "codex", MetricName: "cpu_percent"})
	require.NoError(t, err)
	require.Len(t, cpu, 4)
	for _, got := range cpu {
		assert.Equal(t, "cpu_percent", got.MetricName)
	}

	window, err := store.QuerySamples(Query{
		ServiceName: "codex",
		Since:       base.Add(time.Minute),
		Until:       base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	// Two sweeps inside the window, two metrics each.
	require.Len(t, window, 4)
	assert.Equal(t, base.Add(2*time.Minute), window[0].Timestamp)

	limited, err := store.QuerySamples(Query{ServiceName: "codex", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestQueryUnknownServiceIsNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.QuerySamples(Query{ServiceName: "ghost"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestQueryRequiresServiceName(t *testing.T) {
	store := testStore(t)

	_, err := store.QuerySamples(Query{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRecordValidatesSamples(t *testing.T) {
	store := testStore(t)

	err := store.Record([]types.MetricSample{sample("Not Valid", "cpu_percent", time.Now(), 1)})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	err = store.Record([]types.MetricSample{sample("core", "", time.Now(), 1)})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRecordStampsMissingTimestamp(t *testing.T) {
	store := testStore(t)

	before := time.Now().Add(-time.Second)
	require.NoError(t, store.Record([]types.MetricSample{
		{ServiceName: "core", MetricName: "cpu_percent", Value: 5},
	}))

	results, err := store.QuerySamples(Query{ServiceName: "core"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Timestamp.After(before))
}

func TestPruneRemovesOldSamplesAndEmptyServices(t *testing.T) {
	store := testStore(t)

	old := time.Now().AddDate(0, 0, -30)
	fresh := time.Now()

	require.NoError(t, store.Record([]types.MetricSample{
		sample("core", "cpu_percent", old, 1),
		sample("core", "cpu_percent", fresh, 2),
		sample("retired", "cpu_percent", old, 3),
	}))

	removed, err := store.Prune(time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	kept, err := store.QuerySamples(Query{ServiceName: "core"})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, 2.0, kept[0].Value)

	// The retired service's bucket is gone entirely.
	_, err = store.QuerySamples(Query{ServiceName: "retired"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}
