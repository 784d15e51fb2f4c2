package monitor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivematrix/helm/pkg/events"
	"github.com/hivematrix/helm/pkg/types"
)

type fakeCatalog struct {
	entries []types.ServiceEntry
}

func (c *fakeCatalog) List() []types.ServiceEntry { return c.entries }

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]types.ProcessRecord
	crashed []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]types.ProcessRecord)}
}

func (f *fakeRecords) set(rec types.ProcessRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ServiceName] = rec
}

func (f *fakeRecords) Record(name string) types.ProcessRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[name]
	if !ok {
		rec = types.ProcessRecord{ServiceName: name, Status: types.ProcessStopped}
	}
	return rec
}

func (f *fakeRecords) MarkCrashed(name string, exitCode *int, message string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[name]
	if rec.Status != types.ProcessRunning && rec.Status != types.ProcessStarting {
		return false
	}
	rec.ServiceName = name
	rec.Status = types.ProcessError
	rec.LastExitCode = exitCode
	rec.LastErrorMessage = message
	f.records[name] = rec
	f.crashed = append(f.crashed, name)
	return true
}

func (f *fakeRecords) crashCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.crashed...)
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func (f *fakeLogs) Ingest(_ context.Context, entries []types.LogEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return len(entries), nil
}

func (f *fakeLogs) all() []types.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.LogEntry(nil), f.entries...)
}

type fakeSamples struct {
	mu      sync.Mutex
	samples []types.MetricSample
}

func (f *fakeSamples) Record(samples []types.MetricSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, samples...)
	return nil
}

func (f *fakeSamples) all() []types.MetricSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.MetricSample(nil), f.samples...)
}

// healthServer serves a /health document and returns the port it
// listens on, which doubles as the fake service's port.
func healthServer(t *testing.T, status string) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":%q}`, status)
	}))
	t.Cleanup(srv.Close)
	return srv, srv.Listener.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())
	return cmd.Process.Pid
}

type fixture struct {
	catalog *fakeCatalog
	records *fakeRecords
	logs    *fakeLogs
	samples *fakeSamples
	mon     *Monitor
}

func newFixture(entries ...types.ServiceEntry) *fixture {
	f := &fixture{
		catalog: &fakeCatalog{entries: entries},
		records: newFakeRecords(),
		logs:    &fakeLogs{},
		samples: &fakeSamples{},
	}
	f.mon = New(Config{
		Catalog: f.catalog,
		Records: f.records,
		Logs:    f.logs,
		Samples: f.samples,
		Logger:  zerolog.Nop(),
	})
	return f
}

func runningSelf(name string) types.ProcessRecord {
	return types.ProcessRecord{
		ServiceName: name,
		Status:      types.ProcessRunning,
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC().Add(-time.Minute),
		Mode:        types.RunModeProduction,
	}
}

func TestSweepHealthyService(t *testing.T) {
	_, port := healthServer(t, "healthy")
	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.records.set(runningSelf("web"))

	f.mon.Sweep(context.Background())
	first, ok := f.mon.Status("web")
	require.True(t, ok)
	assert.Equal(t, types.ProcessRunning, first.Status)
	assert.Equal(t, types.HealthHealthy, first.Health)
	assert.Equal(t, os.Getpid(), first.PID)
	assert.Greater(t, first.MemoryMB, 0.0)

	f.mon.Sweep(context.Background())
	second, _ := f.mon.Status("web")
	assert.True(t, second.LastChecked.After(first.LastChecked))
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)

	// Two sweeps of one running service yield cpu and memory samples
	// for each.
	samples := f.samples.all()
	require.Len(t, samples, 4)
	names := map[string]int{}
	for _, s := range samples {
		assert.Equal(t, "web", s.ServiceName)
		names[s.MetricName]++
	}
	assert.Equal(t, 2, names["cpu_percent"])
	assert.Equal(t, 2, names["memory_mb"])
}

func TestSweepDegradedService(t *testing.T) {
	_, port := healthServer(t, "degraded")
	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.records.set(runningSelf("web"))

	f.mon.Sweep(context.Background())
	status, _ := f.mon.Status("web")
	assert.Equal(t, types.ProcessRunning, status.Status)
	assert.Equal(t, types.HealthDegraded, status.Health)
}

func TestSweepUnreachableWritesThrottledWarning(t *testing.T) {
	f := newFixture(types.ServiceEntry{Name: "web", Port: closedPort(t)})
	f.records.set(runningSelf("web"))

	f.mon.Sweep(context.Background())
	status, _ := f.mon.Status("web")
	assert.Equal(t, types.ProcessRunning, status.Status)
	assert.Equal(t, types.HealthUnreachable, status.Health)

	f.mon.Sweep(context.Background())

	warnings := f.logs.all()
	require.Len(t, warnings, 1)
	assert.Equal(t, types.LevelWarning, warnings[0].Level)
	assert.Equal(t, "web", warnings[0].ServiceName)
	assert.Contains(t, warnings[0].Message, "probe failing")
}

func TestSweepDetectsVanishedProcess(t *testing.T) {
	_, port := healthServer(t, "healthy")
	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.records.set(runningSelf("web"))
	f.mon.Sweep(context.Background())

	rec := runningSelf("web")
	rec.PID = deadPID(t)
	f.records.set(rec)
	f.mon.Sweep(context.Background())

	status, _ := f.mon.Status("web")
	assert.Equal(t, types.ProcessError, status.Status)
	assert.Equal(t, []string{"web"}, f.records.crashCalls())

	entries := f.logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LevelError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "crashed")
	assert.Equal(t, "web", entries[0].ServiceName)
}

func TestSweepReportsReaperRecordedCrash(t *testing.T) {
	_, port := healthServer(t, "healthy")
	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.records.set(runningSelf("web"))
	f.mon.Sweep(context.Background())

	// The supervisor's reaper already recorded the exit before this
	// sweep; the monitor must still write the crash entry with the
	// captured code.
	code := 5
	f.records.set(types.ProcessRecord{
		ServiceName:      "web",
		Status:           types.ProcessError,
		LastExitCode:     &code,
		LastErrorMessage: "process exited unexpectedly with code 5",
	})
	f.mon.Sweep(context.Background())

	status, _ := f.mon.Status("web")
	assert.Equal(t, types.ProcessError, status.Status)
	assert.Empty(t, f.records.crashCalls())

	entries := f.logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LevelError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "exit code 5")
	assert.Equal(t, 5, entries[0].Context["exit_code"])
}

func TestSweepStoppedService(t *testing.T) {
	f := newFixture(types.ServiceEntry{Name: "web", Port: closedPort(t)})

	f.mon.Sweep(context.Background())
	status, ok := f.mon.Status("web")
	require.True(t, ok)
	assert.Equal(t, types.ProcessStopped, status.Status)
	assert.Equal(t, types.HealthUnknown, status.Health)
	assert.Zero(t, status.PID)
	assert.Empty(t, f.samples.all())
	assert.Empty(t, f.logs.all())
}

func TestSweepSelfStatus(t *testing.T) {
	f := newFixture(types.ServiceEntry{Name: "helm", Port: 5004})

	f.mon.Sweep(context.Background())
	status, ok := f.mon.Status("helm")
	require.True(t, ok)
	assert.Equal(t, types.ProcessRunning, status.Status)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, types.HealthHealthy, status.Health)
	assert.Greater(t, status.MemoryMB, 0.0)
}

func TestHealthChangeEvent(t *testing.T) {
	srv, port := healthServer(t, "healthy")
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.mon.events = broker
	f.records.set(runningSelf("web"))

	f.mon.Sweep(context.Background()) // unknown -> healthy
	srv.Close()
	f.mon.Sweep(context.Background()) // healthy -> unreachable

	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for !seen["healthy"] || !seen["unreachable"] {
		select {
		case ev := <-sub:
			if ev.Type != types.EventHealthChanged {
				continue
			}
			if ev.Message == "web health changed from unknown to healthy" {
				seen["healthy"] = true
			}
			if ev.Message == "web health changed from healthy to unreachable" {
				seen["unreachable"] = true
			}
		case <-deadline:
			t.Fatalf("missing health change events, got %v", seen)
		}
	}
}

func TestMonitorLoopStartStop(t *testing.T) {
	_, port := healthServer(t, "healthy")
	f := newFixture(types.ServiceEntry{Name: "web", Port: port})
	f.records.set(runningSelf("web"))
	f.mon.interval = 30 * time.Millisecond

	f.mon.Start()
	require.Eventually(t, func() bool {
		_, ok := f.mon.Status("web")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	f.mon.Stop()

	// The loop is fully stopped; no sweep mutates state anymore.
	before, _ := f.mon.Status("web")
	time.Sleep(80 * time.Millisecond)
	after, _ := f.mon.Status("web")
	assert.Equal(t, before.LastChecked, after.LastChecked)
}

func TestStatusesSnapshotIsDetached(t *testing.T) {
	f := newFixture(types.ServiceEntry{Name: "web", Port: closedPort(t)})
	f.mon.Sweep(context.Background())

	snapshot := f.mon.Statuses()
	require.Contains(t, snapshot, "web")
	entry := snapshot["web"]
	entry.Status = types.ProcessRunning
	snapshot["web"] = entry

	fresh, _ := f.mon.Status("web")
	assert.Equal(t, types.ProcessStopped, fresh.Status)
}
