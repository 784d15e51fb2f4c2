package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/events"
	"github.com/hivematrix/helm/pkg/health"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/procfs"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	// DefaultInterval is how often the full probe sweep runs.
	DefaultInterval = 5 * time.Second

	// DefaultHTTPTimeout bounds each /health call.
	DefaultHTTPTimeout = 2 * time.Second

	// probeWarnInterval throttles WARNING log entries for a service
	// whose probes keep failing; one entry per service per interval.
	probeWarnInterval = 5 * time.Minute
)

// Catalog lists the services to watch.
type Catalog interface {
	List() []types.ServiceEntry
}

// RecordSource exposes the supervisor's process records and its crash
// transition.
type RecordSource interface {
	Record(name string) types.ProcessRecord
	MarkCrashed(name string, exitCode *int, message string) bool
}

// LogSink receives the monitor's crash and probe-failure entries.
type LogSink interface {
	Ingest(ctx context.Context, entries []types.LogEntry) (int, error)
}

// SampleSink receives per-sweep resource samples.
type SampleSink interface {
	Record(samples []types.MetricSample) error
}

// Config wires a Monitor. Catalog and Records are required; Logs,
// Samples and Events are optional sinks.
type Config struct {
	Catalog Catalog
	Records RecordSource
	Logs    LogSink
	Samples SampleSink
	Events  *events.Broker
	Logger  zerolog.Logger

	Interval    time.Duration
	HTTPTimeout time.Duration
}

// cpuReading is the previous stat sample used for CPU deltas. The PID
// is kept so a restarted service never diffs against its predecessor.
type cpuReading struct {
	pid   int
	stats *procfs.Stats
	at    time.Time
}

// Monitor drives the periodic probe loop: process, port and HTTP
// checks per service plus resource sampling, feeding ServiceStatus
// snapshots to the API and collector, samples to the metric store and
// crash entries to the log store.
type Monitor struct {
	catalog Catalog
	records RecordSource
	logs    LogSink
	samples SampleSink
	events  *events.Broker
	logger  zerolog.Logger

	interval    time.Duration
	httpTimeout time.Duration
	startedAt   time.Time

	mu       sync.RWMutex
	statuses map[string]types.ServiceStatus
	cpu      map[string]cpuReading
	warnedAt map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor from cfg, applying interval defaults.
func New(cfg Config) *Monitor {
	m := &Monitor{
		catalog:     cfg.Catalog,
		records:     cfg.Records,
		logs:        cfg.Logs,
		samples:     cfg.Samples,
		events:      cfg.Events,
		logger:      cfg.Logger.With().Str("component", "monitor").Logger(),
		interval:    cfg.Interval,
		httpTimeout: cfg.HTTPTimeout,
		startedAt:   time.Now().UTC(),
		statuses:    make(map[string]types.ServiceStatus),
		cpu:         make(map[string]cpuReading),
		warnedAt:    make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.httpTimeout <= 0 {
		m.httpTimeout = DefaultHTTPTimeout
	}
	return m
}

// Start launches the probe loop. The first sweep runs immediately so
// status is available before the first tick.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the loop and waits for an in-flight sweep.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sweep(context.Background())
	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Statuses snapshots the latest sweep, keyed by service name.
func (m *Monitor) Statuses() map[string]types.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}

// Status returns the latest observation for one service.
func (m *Monitor) Status(name string) (types.ServiceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Sweep probes every catalog service once. Probes for one service run
// sequentially; services run concurrently.
func (m *Monitor) Sweep(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MonitorSweepDuration)

	entries := m.catalog.List()
	results := make([]types.ServiceStatus, len(entries))

	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probeService(ctx, entry)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	for _, status := range results {
		m.statuses[status.ServiceName] = status
	}
	m.mu.Unlock()

	m.appendSamples(results)
}

func (m *Monitor) probeService(ctx context.Context, entry types.ServiceEntry) types.ServiceStatus {
	now := time.Now().UTC()

	if entry.Name == paths.OrchestratorName {
		return m.selfStatus(entry, now)
	}

	prev, hadPrev := m.Status(entry.Name)
	rec := m.records.Record(entry.Name)

	status := types.ServiceStatus{
		ServiceName: entry.Name,
		Status:      rec.Status,
		Port:        entry.Port,
		LastChecked: now,
		Health:      types.HealthUnknown,
	}

	switch rec.Status {
	case types.ProcessRunning:
		m.probeRunning(ctx, entry, rec, now, &status)
	case types.ProcessStarting, types.ProcessStopping:
		status.PID = rec.PID
		status.StartedAt = rec.StartedAt
	default:
		status.HealthMessage = rec.LastErrorMessage
	}

	if status.Status == types.ProcessRunning {
		metrics.HealthChecks.WithLabelValues(entry.Name, string(status.Health)).Inc()
	}

	m.noteTransitions(ctx, entry.Name, prev, hadPrev, status)
	m.maybeWarnProbeFailure(ctx, entry.Name, status)
	return status
}

// probeRunning runs the sequential probe ladder for a service whose
// record claims a live process.
func (m *Monitor) probeRunning(ctx context.Context, entry types.ServiceEntry, rec types.ProcessRecord, now time.Time, status *types.ServiceStatus) {
	proc := health.NewProcessChecker(rec.PID).Check(ctx)
	if !proc.Reachable() {
		status.Status = types.ProcessError
		m.records.MarkCrashed(entry.Name, nil, "process probe failed: "+proc.Message)
		// The supervisor's reaper may have recorded the exit first;
		// either way the record now carries the best-known reason.
		status.HealthMessage = m.records.Record(entry.Name).LastErrorMessage
		m.clearUsage(entry.Name)
		return
	}

	status.PID = rec.PID
	status.StartedAt = rec.StartedAt

	tcp := health.NewTCPChecker(entry.Port).Check(ctx)
	if !tcp.Reachable() {
		status.Health = types.HealthUnreachable
		status.HealthMessage = tcp.Message
	} else {
		res := health.NewHTTPChecker(entry.URL()).WithTimeout(m.httpTimeout).Check(ctx)
		status.Health = res.State
		status.HealthMessage = res.Message
	}

	m.sampleUsage(entry.Name, rec.PID, now, status)
}

// selfStatus reports the orchestrator's own row without probing: if
// this code runs, the process is alive, and its health document is
// computed in-process.
func (m *Monitor) selfStatus(entry types.ServiceEntry, now time.Time) types.ServiceStatus {
	state := types.HealthHealthy
	if doc := metrics.GetHealth(); doc.Status != "healthy" {
		state = types.HealthDegraded
	}
	status := types.ServiceStatus{
		ServiceName: entry.Name,
		Status:      types.ProcessRunning,
		PID:         os.Getpid(),
		Port:        entry.Port,
		StartedAt:   m.startedAt,
		LastChecked: now,
		Health:      state,
	}
	m.sampleUsage(entry.Name, status.PID, now, &status)
	return status
}

// sampleUsage fills CPU and memory from /proc, diffing CPU ticks
// against the previous sweep's reading for the same PID.
func (m *Monitor) sampleUsage(name string, pid int, now time.Time, status *types.ServiceStatus) {
	current := procfs.ReadProcessStats(pid)

	m.mu.Lock()
	defer m.mu.Unlock()
	if current == nil {
		delete(m.cpu, name)
		return
	}
	status.MemoryMB = procfs.RSSMegabytes(current)
	if prev, ok := m.cpu[name]; ok && prev.pid == pid && now.After(prev.at) {
		status.CPUPercent = procfs.CPUPercent(prev.stats, current, now.Sub(prev.at))
	}
	m.cpu[name] = cpuReading{pid: pid, stats: current, at: now}
}

func (m *Monitor) clearUsage(name string) {
	m.mu.Lock()
	delete(m.cpu, name)
	m.mu.Unlock()
}

// noteTransitions reacts to differences against the previous sweep:
// a running service that vanished gets an ERROR log entry with its
// exit code, and health flips publish an event.
func (m *Monitor) noteTransitions(ctx context.Context, name string, prev types.ServiceStatus, hadPrev bool, current types.ServiceStatus) {
	if !hadPrev {
		return
	}

	if prev.Status == types.ProcessRunning && current.Status == types.ProcessError {
		m.writeCrashLog(ctx, name)
	}

	if prev.Health != current.Health {
		m.publish(types.EventHealthChanged, name,
			fmt.Sprintf("%s health changed from %s to %s", name, prev.Health, current.Health))
	}
}

func (m *Monitor) writeCrashLog(ctx context.Context, name string) {
	if m.logs == nil {
		return
	}
	rec := m.records.Record(name)

	message := fmt.Sprintf("Service %s crashed", name)
	logContext := map[string]any{"detected_by": "health_monitor"}
	if rec.LastExitCode != nil {
		message = fmt.Sprintf("Service %s crashed with exit code %d", name, *rec.LastExitCode)
		logContext["exit_code"] = *rec.LastExitCode
	}
	if rec.LastErrorMessage != "" {
		logContext["reason"] = rec.LastErrorMessage
	}
	hostname, _ := os.Hostname()

	entry := types.LogEntry{
		Timestamp:   time.Now().UTC(),
		ServiceName: name,
		Level:       types.LevelError,
		Message:     message,
		Context:     logContext,
		Hostname:    hostname,
	}
	if _, err := m.logs.Ingest(ctx, []types.LogEntry{entry}); err != nil {
		m.logger.Error().Err(err).Str("service", name).Msg("Failed to write crash log entry")
	}
	m.logger.Error().Str("service", name).Msg(message)
}

// maybeWarnProbeFailure writes a throttled WARNING entry while a
// running service stays unreachable.
func (m *Monitor) maybeWarnProbeFailure(ctx context.Context, name string, status types.ServiceStatus) {
	if m.logs == nil || status.Status != types.ProcessRunning {
		return
	}
	if status.Health == types.HealthHealthy || status.Health == types.HealthDegraded {
		m.mu.Lock()
		delete(m.warnedAt, name)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	last, warned := m.warnedAt[name]
	if warned && time.Since(last) < probeWarnInterval {
		m.mu.Unlock()
		return
	}
	m.warnedAt[name] = time.Now()
	m.mu.Unlock()

	hostname, _ := os.Hostname()
	entry := types.LogEntry{
		Timestamp:   time.Now().UTC(),
		ServiceName: name,
		Level:       types.LevelWarning,
		Message:     fmt.Sprintf("Health probe failing for %s: %s", name, status.HealthMessage),
		Context:     map[string]any{"detected_by": "health_monitor"},
		Hostname:    hostname,
	}
	if _, err := m.logs.Ingest(ctx, []types.LogEntry{entry}); err != nil {
		m.logger.Error().Err(err).Str("service", name).Msg("Failed to write probe warning entry")
	}
}

// appendSamples flushes one batch of resource samples per sweep.
func (m *Monitor) appendSamples(statuses []types.ServiceStatus) {
	if m.samples == nil {
		return
	}
	var batch []types.MetricSample
	for _, status := range statuses {
		if status.Status != types.ProcessRunning {
			continue
		}
		batch = append(batch,
			types.MetricSample{
				ServiceName: status.ServiceName,
				Timestamp:   status.LastChecked,
				MetricName:  "cpu_percent",
				Value:       status.CPUPercent,
			},
			types.MetricSample{
				ServiceName: status.ServiceName,
				Timestamp:   status.LastChecked,
				MetricName:  "memory_mb",
				Value:       status.MemoryMB,
			},
		)
	}
	if len(batch) == 0 {
		return
	}
	if err := m.samples.Record(batch); err != nil {
		m.logger.Error().Err(err).Msg("Failed to append resource samples")
	}
}

func (m *Monitor) publish(eventType types.EventType, service, message string) {
	if m.events != nil {
		m.events.PublishService(eventType, service, message)
	}
}
