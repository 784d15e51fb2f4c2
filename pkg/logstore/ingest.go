package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/types"
)

// Ingest writes a batch of entries in one transaction. The batch is
// all-or-nothing: validation runs over every entry before the first
// insert, and any malformed entry rejects the whole batch with an
// error naming its position. Within the batch, ids are assigned in
// submission order.
//
// Entries without a timestamp are stamped with the receipt time.
func (s *Store) Ingest(ctx context.Context, entries []types.LogEntry) (accepted int, err error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if len(entries) > MaxBatchSize {
		metrics.LogBatchesRejected.Inc()
		return 0, fmt.Errorf("log store: batch of %d exceeds limit %d: %w",
			len(entries), MaxBatchSize, types.ErrInvalidInput)
	}

	for i := range entries {
		if err := validateEntry(&entries[i]); err != nil {
			metrics.LogBatchesRejected.Inc()
			return 0, fmt.Errorf("log store: entry %d: %w", i, err)
		}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("log store: ingest: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("log store: begin transaction: %w", err)
	}
	// err must not be shadowed below: the deferred end function
	// commits on nil and rolls back otherwise.
	defer endTransaction(&err)

	receivedAt := time.Now()
	for i := range entries {
		if err = insertEntry(conn, &entries[i], receivedAt); err != nil {
			err = fmt.Errorf("log store: entry %d: %w", i, err)
			return 0, err
		}
	}

	metrics.LogEntriesIngested.Add(float64(len(entries)))
	return len(entries), nil
}

// validateEntry enforces the ingest contract. The returned errors wrap
// ErrInvalidInput so the API layer can map them to 400.
func validateEntry(entry *types.LogEntry) error {
	if !types.ValidServiceName(entry.ServiceName) {
		return fmt.Errorf("invalid service name %q: %w", entry.ServiceName, types.ErrInvalidInput)
	}
	if _, err := types.ParseLogLevel(string(entry.Level)); err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrInvalidInput)
	}
	if entry.Message == "" {
		return fmt.Errorf("empty message: %w", types.ErrInvalidInput)
	}
	return nil
}

func insertEntry(conn *sqlite.Conn, entry *types.LogEntry, receivedAt time.Time) error {
	// Already validated; normalization maps the WARN alias.
	level, _ := types.ParseLogLevel(string(entry.Level))

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = receivedAt
	}

	var contextJSON any
	if len(entry.Context) > 0 {
		data, err := json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		contextJSON = string(data)
	}

	var traceID, userID, hostname, processID any
	if entry.TraceID != "" {
		traceID = entry.TraceID
	}
	if entry.UserID != "" {
		userID = entry.UserID
	}
	if entry.Hostname != "" {
		hostname = entry.Hostname
	}
	if entry.ProcessID != 0 {
		processID = entry.ProcessID
	}

	return sqlitex.Execute(conn, `INSERT INTO log_entries
		(timestamp, service_name, level, message, context, trace_id,
		 user_id, hostname, process_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			nanos(timestamp),
			entry.ServiceName,
			string(level),
			entry.Message,
			contextJSON,
			traceID,
			userID,
			hostname,
			processID,
		},
	})
}
