package logstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	// DefaultRetentionDays is how long entries are kept when the
	// config does not say otherwise.
	DefaultRetentionDays = 90

	// MaxBatchSize caps a single ingest call.
	MaxBatchSize = 1000

	// DefaultQueryLimit and MaxQueryLimit bound query pagination.
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Config holds the parameters for opening a log store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist; the file is created on first open.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	// Writes are serialized by SQLite regardless; extra connections
	// serve concurrent readers.
	PoolSize int

	// RetentionDays is the age horizon for the purge loop. Values
	// below 1 fall back to DefaultRetentionDays.
	RetentionDays int

	Logger zerolog.Logger
}

// Store is the centralized log table every platform service writes to.
// Entries are append-only; the retention sweep is the only mutation.
type Store struct {
	pool          *sqlitex.Pool
	logger        zerolog.Logger
	retentionDays int

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens (or creates) the log database and applies the schema.
// The caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log store: path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("log store: opening %s: %w", cfg.Path, err)
	}

	store := &Store{
		pool:          pool,
		logger:        cfg.Logger,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
	}

	store.logger.Info().
		Str("path", cfg.Path).
		Int("retention_days", retentionDays).
		Msg("Log store opened")

	return store, nil
}

// Close stops the retention loop and closes the connection pool,
// blocking until borrowed connections are returned.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("log store: close: %w", err)
	}
	return nil
}

// RetentionDays returns the configured age horizon.
func (s *Store) RetentionDays() int {
	return s.retentionDays
}

// prepareConnection runs once per pooled connection. The schema is
// CREATE IF NOT EXISTS so reapplying it is free.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("log store: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("log store: applying schema: %w", err)
	}
	return nil
}

// schema is the append-only log table. Timestamps are Unix nanoseconds
// in UTC. AUTOINCREMENT guarantees ids never repeat even after the
// retention sweep removes old rows, so ids stay monotonic across the
// life of the database.
const schema = `
CREATE TABLE IF NOT EXISTS log_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    INTEGER NOT NULL,
	service_name TEXT NOT NULL,
	level        TEXT NOT NULL,
	message      TEXT NOT NULL,
	context      TEXT,
	trace_id     TEXT,
	user_id      TEXT,
	hostname     TEXT,
	process_id   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_logs_time ON log_entries(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_service ON log_entries(service_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_level ON log_entries(level, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_trace ON log_entries(trace_id);
CREATE INDEX IF NOT EXISTS idx_logs_user ON log_entries(user_id);
`

// nanos converts a time to the stored representation.
func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}
