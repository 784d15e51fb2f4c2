package client

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	// shipperBatchSize is how many entries accumulate before a batch
	// ships without waiting for the ticker.
	shipperBatchSize = 10

	// shipperFlushInterval bounds how long a buffered entry waits.
	shipperFlushInterval = 5 * time.Second

	// shipperMaxFailures is how many consecutive delivery failures a
	// batch survives before it is written to the fallback and dropped.
	shipperMaxFailures = 5

	// shipperMaxBuffered caps the buffer at the largest batch the
	// ingest endpoint accepts, so a retried backlog still ships in one
	// request. Oldest entries fall off first.
	shipperMaxBuffered = logstore.MaxBatchSize
)

// LogShipper batches a service's log entries and forwards them to the
// central log store. Batches ship when the buffer fills, on a periodic
// tick, and immediately for ERROR or CRITICAL entries. Delivery
// failures requeue the batch; after too many consecutive failures the
// batch is written to the fallback writer and dropped so the buffer
// cannot grow without bound.
//
// Managed services embed this with their service token so their logs
// land in the same store the dashboard reads.
type LogShipper struct {
	client      *Client
	serviceName string
	hostname    string
	pid         int
	fallback    io.Writer

	mu       sync.Mutex
	buffer   []types.LogEntry
	failures int

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLogShipper starts a shipper that delivers through c, attributing
// every entry to serviceName. Callers must Close it to flush the tail.
func NewLogShipper(c *Client, serviceName string) *LogShipper {
	hostname, _ := os.Hostname()
	s := &LogShipper{
		client:      c,
		serviceName: serviceName,
		hostname:    hostname,
		pid:         os.Getpid(),
		fallback:    os.Stderr,
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Log records one entry, stamping timestamp, hostname and process id
// when the caller left them empty. ERROR and CRITICAL entries flush
// the buffer immediately; everything else waits for the batch size or
// the ticker.
func (s *LogShipper) Log(entry types.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = types.LevelInfo
	}
	if entry.ServiceName == "" {
		entry.ServiceName = s.serviceName
	}
	if entry.Hostname == "" {
		entry.Hostname = s.hostname
	}
	if entry.ProcessID == 0 {
		entry.ProcessID = s.pid
	}

	var overflow []types.LogEntry
	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	if excess := len(s.buffer) - shipperMaxBuffered; excess > 0 {
		overflow = append(overflow, s.buffer[:excess]...)
		s.buffer = append(s.buffer[:0], s.buffer[excess:]...)
	}
	full := len(s.buffer) >= shipperBatchSize
	s.mu.Unlock()

	if len(overflow) > 0 {
		s.writeFallback(overflow)
	}
	if full || entry.Level.Severity() >= types.LevelError.Severity() {
		s.Flush()
	}
}

// Debug records a DEBUG entry.
func (s *LogShipper) Debug(message string) { s.log(types.LevelDebug, message) }

// Info records an INFO entry.
func (s *LogShipper) Info(message string) { s.log(types.LevelInfo, message) }

// Warning records a WARNING entry.
func (s *LogShipper) Warning(message string) { s.log(types.LevelWarning, message) }

// Error records an ERROR entry and flushes immediately.
func (s *LogShipper) Error(message string) { s.log(types.LevelError, message) }

// Critical records a CRITICAL entry and flushes immediately.
func (s *LogShipper) Critical(message string) { s.log(types.LevelCritical, message) }

func (s *LogShipper) log(level types.LogLevel, message string) {
	s.Log(types.LogEntry{Level: level, Message: message})
}

// Flush ships everything currently buffered on the caller's
// goroutine. Failed batches requeue at the front so ordering survives
// a retry.
func (s *LogShipper) Flush() {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if _, err := s.client.IngestLogs(s.serviceName, batch); err == nil {
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.failures++
	dropping := s.failures >= shipperMaxFailures
	if dropping {
		s.failures = 0
	} else {
		s.buffer = append(batch, s.buffer...)
	}
	s.mu.Unlock()

	if dropping {
		s.writeFallback(batch)
	}
}

// Close stops the background flusher and ships anything still
// buffered. Safe to call more than once.
func (s *LogShipper) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.Flush()
	})
	return nil
}

func (s *LogShipper) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(shipperFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.done:
			return
		}
	}
}

// writeFallback prints undeliverable entries one per line so they stay
// visible in the local journal.
func (s *LogShipper) writeFallback(entries []types.LogEntry) {
	for _, e := range entries {
		fmt.Fprintf(s.fallback, "%s [%s] %s: %s\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.ServiceName, e.Message)
	}
}
