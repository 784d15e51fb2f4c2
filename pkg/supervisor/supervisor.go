package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/hivematrix/helm/pkg/events"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/procfs"
	"github.com/hivematrix/helm/pkg/registry"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	// DefaultStartDeadline bounds a whole start operation, config
	// synthesis and spawn included.
	DefaultStartDeadline = 30 * time.Second

	// DefaultSpawnWindow is how long a fresh child is watched before
	// the record flips from starting to running.
	DefaultSpawnWindow = 3 * time.Second

	// DefaultStopTimeout is how long a service gets to exit after
	// SIGTERM before SIGKILL is sent.
	DefaultStopTimeout = 10 * time.Second
)

const pollInterval = 100 * time.Millisecond

// Catalog is the slice of the service registry the supervisor needs.
type Catalog interface {
	Get(name string) (types.ServiceEntry, error)
	List() []types.ServiceEntry
}

// Preparer regenerates a service's synthesized runtime files before it
// launches.
type Preparer interface {
	PrepareService(name string) error
}

// Config wires a Supervisor. Layout and Catalog are required; the rest
// default to sensible values or are optional hooks.
type Config struct {
	Layout   *paths.Layout
	Catalog  Catalog
	Preparer Preparer
	Events   *events.Broker
	Logger   zerolog.Logger

	// ExtraEnv contributes service-specific environment on top of the
	// synthesized env files, e.g. identity-provider bootstrap
	// credentials for an external IDP checkout.
	ExtraEnv func(entry types.ServiceEntry, mode types.RunMode) []string

	StartDeadline time.Duration
	SpawnWindow   time.Duration
	StopTimeout   time.Duration
}

// Supervisor owns the process lifecycle of every managed service:
// spawning, adoption, liveness bookkeeping and shutdown. One record
// exists per referenced service and is never destroyed, only mutated.
type Supervisor struct {
	layout   *paths.Layout
	catalog  Catalog
	preparer Preparer
	events   *events.Broker
	extraEnv func(entry types.ServiceEntry, mode types.RunMode) []string
	logger   zerolog.Logger

	startDeadline time.Duration
	spawnWindow   time.Duration
	stopTimeout   time.Duration

	mu      sync.RWMutex
	handles map[string]*handle
}

// handle pairs a service's record with its serialization lock. The
// cmd/waitCh fields are set only for processes this supervisor spawned
// itself; adopted processes have no wait channel.
type handle struct {
	mu     sync.Mutex
	record types.ProcessRecord
	cmd    *exec.Cmd
	waitCh chan waitResult
}

type waitResult struct {
	code int
}

// New builds a Supervisor from cfg, applying defaults for unset
// durations.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		layout:        cfg.Layout,
		catalog:       cfg.Catalog,
		preparer:      cfg.Preparer,
		events:        cfg.Events,
		extraEnv:      cfg.ExtraEnv,
		logger:        cfg.Logger.With().Str("component", "supervisor").Logger(),
		startDeadline: cfg.StartDeadline,
		spawnWindow:   cfg.SpawnWindow,
		stopTimeout:   cfg.StopTimeout,
		handles:       make(map[string]*handle),
	}
	if s.startDeadline <= 0 {
		s.startDeadline = DefaultStartDeadline
	}
	if s.spawnWindow <= 0 {
		s.spawnWindow = DefaultSpawnWindow
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	return s
}

// handleFor returns the service's handle, creating a stopped record on
// first reference.
func (s *Supervisor) handleFor(name string) *handle {
	s.mu.RLock()
	h, ok := s.handles[name]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.handles[name]; ok {
		return h
	}
	h = &handle{record: types.ProcessRecord{
		ServiceName: name,
		Status:      types.ProcessStopped,
		Mode:        types.RunModeProduction,
	}}
	s.handles[name] = h
	return h
}

// Record returns a copy of the service's process record. Services
// never referenced before report as stopped.
func (s *Supervisor) Record(name string) types.ProcessRecord {
	h := s.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneRecord(h.record)
}

// Records snapshots every known record keyed by service name.
func (s *Supervisor) Records() map[string]types.ProcessRecord {
	s.mu.RLock()
	handles := make(map[string]*handle, len(s.handles))
	for name, h := range s.handles {
		handles[name] = h
	}
	s.mu.RUnlock()

	records := make(map[string]types.ProcessRecord, len(handles))
	for name, h := range handles {
		h.mu.Lock()
		records[name] = cloneRecord(h.record)
		h.mu.Unlock()
	}
	return records
}

func cloneRecord(r types.ProcessRecord) types.ProcessRecord {
	if r.LastExitCode != nil {
		code := *r.LastExitCode
		r.LastExitCode = &code
	}
	return r
}

// Start launches a service in the given mode. It returns
// ErrAlreadyRunning when a live process is already recorded,
// ErrPortInUse when a foreign process holds the port, ErrStartTimeout
// when the overall deadline expires and ErrSpawnFailed for everything
// that keeps the child from surviving its spawn window.
func (s *Supervisor) Start(ctx context.Context, name string, mode types.RunMode) error {
	if name == paths.OrchestratorName {
		return fmt.Errorf("%s does not supervise itself: %w", paths.OrchestratorName, types.ErrInvalidInput)
	}
	entry, err := s.catalog.Get(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.startDeadline)
	defer cancel()

	h := s.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.startLocked(ctx, h, entry, mode)
}

func (s *Supervisor) startLocked(ctx context.Context, h *handle, entry types.ServiceEntry, mode types.RunMode) error {
	name := entry.Name
	dir := s.serviceDir(entry)
	pidPath := s.layout.PIDFile(name)

	// A record claiming running only blocks the start if the process
	// is actually alive; a stale claim from a lost child is cleared.
	if h.record.Status == types.ProcessRunning || h.record.Status == types.ProcessStarting {
		if procfs.Alive(h.record.PID) {
			metrics.ServiceStarts.WithLabelValues(name, "rejected").Inc()
			return fmt.Errorf("service %s is already running with pid %d: %w", name, h.record.PID, types.ErrAlreadyRunning)
		}
		s.logger.Warn().Str("service", name).Int("pid", h.record.PID).
			Msg("Clearing stale running record for dead process")
		h.record.Status = types.ProcessError
		h.record.PID = 0
	}

	if !registry.PortFree(entry.Port) {
		if pid := readPIDFile(pidPath); pid > 0 && processMatchesEntry(pid, dir) {
			s.adoptLocked(h, entry, pid)
			return nil
		}
		metrics.ServiceStarts.WithLabelValues(name, "rejected").Inc()
		return fmt.Errorf("port %d for service %s is held by a foreign process: %w", entry.Port, name, types.ErrPortInUse)
	}

	if ctx.Err() != nil {
		metrics.ServiceStarts.WithLabelValues(name, "timeout").Inc()
		h.record.Status = types.ProcessError
		h.record.LastErrorMessage = types.ErrStartTimeout.Error()
		return fmt.Errorf("starting service %s: %w", name, types.ErrStartTimeout)
	}

	if s.preparer != nil {
		if err := s.preparer.PrepareService(name); err != nil {
			return s.failStartLocked(h, nil, "spawn_failed",
				fmt.Errorf("synthesize config for %s: %w: %w", name, types.ErrSpawnFailed, err))
		}
	}
	if err := os.MkdirAll(s.layout.PIDDir(), 0o755); err != nil {
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("create pid dir: %w: %w", types.ErrSpawnFailed, err))
	}
	if err := os.MkdirAll(s.layout.LogDir(), 0o755); err != nil {
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("create log dir: %w: %w", types.ErrSpawnFailed, err))
	}

	argv, err := buildArgv(entry, dir)
	if err != nil {
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("launch command for %s: %w: %w", name, types.ErrSpawnFailed, err))
	}
	env := s.assembleEnv(entry, dir, mode)

	stdoutPath := s.layout.StdoutLog(name)
	stderrPath := s.layout.StderrLog(name)
	stdout, err := openLogFile(stdoutPath)
	if err != nil {
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("open stdout log for %s: %w: %w", name, types.ErrSpawnFailed, err))
	}
	stderr, err := openLogFile(stderrPath)
	if err != nil {
		stdout.Close()
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("open stderr log for %s: %w: %w", name, types.ErrSpawnFailed, err))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// New session: the child survives the orchestrator and never holds
	// our controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	s.logger.Info().Str("service", name).Str("mode", string(mode)).
		Strs("argv", argv).Msg("Starting service")

	err = cmd.Start()
	// The child inherited its own copies of the log descriptors.
	stdout.Close()
	stderr.Close()
	if err != nil {
		return s.failStartLocked(h, nil, "spawn_failed",
			fmt.Errorf("spawn %s: %w: %w", name, types.ErrSpawnFailed, err))
	}

	pid := cmd.Process.Pid
	h.record.Status = types.ProcessStarting
	h.record.PID = pid
	h.record.StartedAt = time.Now().UTC()
	h.record.StopRequested = false
	h.record.Mode = mode
	h.record.StdoutLogPath = stdoutPath
	h.record.StderrLogPath = stderrPath
	h.record.LastExitCode = nil
	h.record.LastErrorMessage = ""

	if err := writePIDFile(pidPath, pid); err != nil {
		s.logger.Error().Err(err).Str("service", name).Msg("Failed to write pidfile")
	}

	waitCh := make(chan waitResult, 1)
	h.cmd = cmd
	h.waitCh = waitCh
	go s.watchChild(h, name, cmd, waitCh)

	window := time.NewTimer(s.spawnWindow)
	defer window.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = unix.Kill(pid, unix.SIGKILL)
			removePIDFile(pidPath)
			metrics.ServiceStarts.WithLabelValues(name, "timeout").Inc()
			h.record.Status = types.ProcessError
			h.record.PID = 0
			h.record.LastErrorMessage = types.ErrStartTimeout.Error()
			h.cmd = nil
			h.waitCh = nil
			s.logger.Error().Str("service", name).Msg("Start deadline expired, killed child")
			return fmt.Errorf("starting service %s: %w", name, types.ErrStartTimeout)

		case res := <-waitCh:
			removePIDFile(pidPath)
			metrics.ServiceStarts.WithLabelValues(name, "died").Inc()
			code := res.code
			h.record.Status = types.ProcessError
			h.record.PID = 0
			h.record.LastExitCode = &code
			message := fmt.Sprintf("exited with code %d during startup", code)
			if tail := tailFile(stderrPath, stderrTailBytes); tail != "" {
				message += ": " + tail
			}
			h.record.LastErrorMessage = message
			h.cmd = nil
			h.waitCh = nil
			s.logger.Error().Str("service", name).Int("exit_code", code).
				Msg("Service died during startup")
			return fmt.Errorf("service %s %s: %w", name, message, types.ErrSpawnFailed)

		case <-tick.C:
			if portOpen(entry.Port) {
				return s.confirmRunningLocked(h, entry)
			}

		case <-window.C:
			return s.confirmRunningLocked(h, entry)
		}
	}
}

// confirmRunningLocked flips starting to running once the spawn window
// closes or the port answers.
func (s *Supervisor) confirmRunningLocked(h *handle, entry types.ServiceEntry) error {
	h.record.Status = types.ProcessRunning
	metrics.ServiceStarts.WithLabelValues(entry.Name, "ok").Inc()
	s.publish(types.EventServiceStarted, entry.Name,
		fmt.Sprintf("%s started on port %d (pid %d)", entry.Name, entry.Port, h.record.PID))
	s.logger.Info().Str("service", entry.Name).Int("pid", h.record.PID).
		Int("port", entry.Port).Msg("Service running")
	return nil
}

// failStartLocked records a pre-spawn failure. The record moves to
// error so a later start is permitted.
func (s *Supervisor) failStartLocked(h *handle, code *int, outcome string, err error) error {
	metrics.ServiceStarts.WithLabelValues(h.record.ServiceName, outcome).Inc()
	h.record.Status = types.ProcessError
	h.record.LastExitCode = code
	h.record.LastErrorMessage = err.Error()
	s.logger.Error().Err(err).Str("service", h.record.ServiceName).Msg("Start failed")
	return err
}

// watchChild reaps the spawned process and reports its exit. The send
// is buffered so the startup window can consume it; any exit after the
// window is handled as a crash.
func (s *Supervisor) watchChild(h *handle, name string, cmd *exec.Cmd, waitCh chan waitResult) {
	werr := cmd.Wait()
	code := exitCode(cmd, werr)
	waitCh <- waitResult{code: code}
	s.reapChild(h, name, cmd.Process.Pid, code)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// reapChild handles a child exiting outside any orchestrated
// transition. Exits observed by start's spawn window or by stop are
// left to those paths.
func (s *Supervisor) reapChild(h *handle, name string, pid, code int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.record.PID != pid {
		return
	}
	if h.record.StopRequested {
		return
	}
	switch h.record.Status {
	case types.ProcessRunning, types.ProcessStarting:
	default:
		return
	}
	s.markCrashedLocked(h, &code, fmt.Sprintf("process exited unexpectedly with code %d", code))
}

// MarkCrashed transitions a running service to error on behalf of an
// external liveness check. Used for adopted processes, which have no
// wait channel. Returns false when the record was not running.
func (s *Supervisor) MarkCrashed(name string, exitCode *int, message string) bool {
	h := s.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.record.Status {
	case types.ProcessRunning, types.ProcessStarting:
	default:
		return false
	}
	if h.record.StopRequested {
		return false
	}
	s.markCrashedLocked(h, exitCode, message)
	return true
}

func (s *Supervisor) markCrashedLocked(h *handle, code *int, message string) {
	name := h.record.ServiceName
	pid := h.record.PID
	h.record.Status = types.ProcessError
	h.record.PID = 0
	h.record.LastExitCode = code
	h.record.LastErrorMessage = message
	h.cmd = nil
	h.waitCh = nil
	removePIDFile(s.layout.PIDFile(name))

	metrics.ServiceCrashes.WithLabelValues(name).Inc()
	s.publish(types.EventServiceCrashed, name, message)
	s.logger.Error().Str("service", name).Int("pid", pid).Str("reason", message).
		Msg("Service crashed")
}

// Stop terminates a service with TERM, escalating to KILL after the
// stop timeout. Stopping a service that is not running is a no-op
// success.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	if name == paths.OrchestratorName {
		return fmt.Errorf("%s does not supervise itself: %w", paths.OrchestratorName, types.ErrInvalidInput)
	}
	h := s.handleFor(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.stopLocked(ctx, h)
}

func (s *Supervisor) stopLocked(ctx context.Context, h *handle) error {
	name := h.record.ServiceName

	if h.record.Status != types.ProcessRunning && h.record.Status != types.ProcessStarting {
		return nil
	}
	pid := h.record.PID
	if pid <= 0 || !procfs.Alive(pid) {
		s.finishStopLocked(h, nil)
		return nil
	}

	h.record.StopRequested = true
	h.record.Status = types.ProcessStopping
	s.logger.Info().Str("service", name).Int("pid", pid).Msg("Stopping service")

	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		h.record.StopRequested = false
		h.record.Status = types.ProcessRunning
		return fmt.Errorf("signal %s (pid %d): %w: %w", name, pid, types.ErrStopFailed, err)
	}

	if s.awaitDeath(ctx, pid, s.stopTimeout) {
		s.finishStopLocked(h, s.harvestExit(h))
		return nil
	}

	s.logger.Warn().Str("service", name).Int("pid", pid).
		Msg("Service ignored SIGTERM, sending SIGKILL")
	_ = unix.Kill(pid, unix.SIGKILL)
	if s.awaitDeath(ctx, pid, 2*time.Second) {
		s.finishStopLocked(h, s.harvestExit(h))
		return nil
	}

	h.record.StopRequested = false
	h.record.Status = types.ProcessRunning
	return fmt.Errorf("service %s (pid %d) survived SIGKILL: %w", name, pid, types.ErrStopFailed)
}

// awaitDeath polls until the PID disappears or the budget runs out.
// Context cancellation cuts the wait short so callers can escalate.
func (s *Supervisor) awaitDeath(ctx context.Context, pid int, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		if !procfs.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// harvestExit collects the child's exit code when its reaper has
// already run. Bounded wait: death was confirmed via liveness, so the
// reaper's send is imminent for our own children.
func (s *Supervisor) harvestExit(h *handle) *int {
	if h.waitCh == nil {
		return nil
	}
	select {
	case res := <-h.waitCh:
		code := res.code
		return &code
	case <-time.After(time.Second):
		return nil
	}
}

func (s *Supervisor) finishStopLocked(h *handle, code *int) {
	name := h.record.ServiceName
	h.record.Status = types.ProcessStopped
	h.record.PID = 0
	h.record.StopRequested = false
	if code != nil {
		h.record.LastExitCode = code
	}
	h.cmd = nil
	h.waitCh = nil
	removePIDFile(s.layout.PIDFile(name))

	s.publish(types.EventServiceStopped, name, name+" stopped")
	s.logger.Info().Str("service", name).Msg("Service stopped")
}

// Restart stops then starts a service. A stop of an already-stopped
// service is a no-op, so restart doubles as "make it run".
func (s *Supervisor) Restart(ctx context.Context, name string, mode types.RunMode) error {
	entry, err := s.catalog.Get(name)
	if err != nil {
		return err
	}
	if err := s.Stop(ctx, name); err != nil {
		return err
	}
	s.awaitPortRelease(ctx, entry.Port)
	return s.Start(ctx, name, mode)
}

// awaitPortRelease gives the kernel a moment to tear down the dead
// service's listener before the port precondition is re-checked.
func (s *Supervisor) awaitPortRelease(ctx context.Context, port int) {
	deadline := time.Now().Add(2 * time.Second)
	for !registry.PortFree(port) {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return
		}
		time.Sleep(pollInterval)
	}
}

// serviceDir resolves where a service lives on disk. Registry entries
// carry their discovered path; the layout convention is the fallback.
func (s *Supervisor) serviceDir(entry types.ServiceEntry) string {
	if entry.DirectoryPath != "" {
		return entry.DirectoryPath
	}
	return s.layout.ServiceDir(entry.Name)
}

func (s *Supervisor) assembleEnv(entry types.ServiceEntry, dir string, mode types.RunMode) []string {
	layers := [][]string{inheritedEnv()}

	// The checkout's own committed env file loads first so the
	// orchestrator-synthesized values override it.
	for _, path := range []string{
		filepath.Join(dir, serviceEnvOverlay),
		s.layout.ServiceEnvFile(entry.Name),
	} {
		pairs, err := readEnvFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("service", entry.Name).Str("path", path).
					Msg("Unreadable env file, skipping")
			}
			continue
		}
		layers = append(layers, pairs)
	}

	layers = append(layers, modeEnv(entry, mode))
	if s.extraEnv != nil {
		layers = append(layers, s.extraEnv(entry, mode))
	}
	return mergeEnv(layers...)
}

// processMatchesEntry verifies that a PID plausibly belongs to the
// service rooted at dir, either by its working directory or by the
// directory appearing in its argv. Guards against PID reuse.
func processMatchesEntry(pid int, dir string) bool {
	if !procfs.Alive(pid) {
		return false
	}
	if procfs.Cwd(pid) == dir {
		return true
	}
	for _, arg := range procfs.ReadCmdline(pid) {
		if strings.Contains(arg, dir) {
			return true
		}
	}
	return false
}

// adoptLocked takes ownership of an already-live process without
// restarting it.
func (s *Supervisor) adoptLocked(h *handle, entry types.ServiceEntry, pid int) {
	startedAt := time.Now().UTC()
	if info, err := os.Stat(s.layout.PIDFile(entry.Name)); err == nil {
		startedAt = info.ModTime().UTC()
	}

	h.record.Status = types.ProcessRunning
	h.record.PID = pid
	h.record.StartedAt = startedAt
	h.record.StopRequested = false
	h.record.StdoutLogPath = s.layout.StdoutLog(entry.Name)
	h.record.StderrLogPath = s.layout.StderrLog(entry.Name)
	h.record.LastErrorMessage = ""
	h.cmd = nil
	h.waitCh = nil

	metrics.ServiceStarts.WithLabelValues(entry.Name, "adopted").Inc()
	s.publish(types.EventServiceAdopted, entry.Name,
		fmt.Sprintf("adopted %s already running with pid %d", entry.Name, pid))
	s.logger.Info().Str("service", entry.Name).Int("pid", pid).Msg("Adopted running service")
}

func (s *Supervisor) publish(eventType types.EventType, service, message string) {
	if s.events != nil {
		s.events.PublishService(eventType, service, message)
	}
}

// sortedEntries returns catalog entries ordered by install order then
// name, with the orchestrator's own entry filtered out.
func (s *Supervisor) sortedEntries() []types.ServiceEntry {
	entries := s.catalog.List()
	filtered := entries[:0]
	for _, e := range entries {
		if e.Name == paths.OrchestratorName {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].InstallOrder != filtered[j].InstallOrder {
			return filtered[i].InstallOrder < filtered[j].InstallOrder
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered
}
