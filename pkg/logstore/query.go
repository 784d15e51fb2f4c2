package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hivematrix/helm/pkg/types"
)

// buildConditions translates the filter into a WHERE clause shared by
// Query and Count.
func buildConditions(filter types.LogFilter) ([]string, []any, error) {
	var conditions []string
	var args []any

	if filter.ServiceName != "" {
		conditions = append(conditions, "service_name = ?")
		args = append(args, filter.ServiceName)
	}
	if filter.MinLevel != "" {
		levels := levelsAtOrAbove(filter.MinLevel)
		if len(levels) == 0 {
			return nil, nil, fmt.Errorf("log store: invalid minimum level %q: %w",
				filter.MinLevel, types.ErrInvalidInput)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
		conditions = append(conditions, "level IN ("+placeholders+")")
		for _, level := range levels {
			args = append(args, string(level))
		}
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, nanos(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, nanos(filter.Until))
	}
	if filter.TraceID != "" {
		conditions = append(conditions, "trace_id = ?")
		args = append(args, filter.TraceID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	return conditions, args, nil
}

// Query returns entries matching the filter, newest first. Zero-valued
// filter fields are not applied. Limit defaults to DefaultQueryLimit
// and is capped at MaxQueryLimit.
func (s *Store) Query(ctx context.Context, filter types.LogFilter) ([]types.LogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	conditions, args, err := buildConditions(filter)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, timestamp, service_name, level, message, context, " +
		"trace_id, user_id, hostname, process_id FROM log_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// id breaks timestamp ties so pagination is stable.
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("log store: query: %w", err)
	}
	defer s.pool.Put(conn)

	var results []types.LogEntry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			results = append(results, entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("log store: query: %w", err)
	}
	return results, nil
}

// Count returns how many entries match the filter, ignoring its limit
// and offset. Pairs with Query for pagination totals.
func (s *Store) Count(ctx context.Context, filter types.LogFilter) (int64, error) {
	conditions, args, err := buildConditions(filter)
	if err != nil {
		return 0, err
	}

	query := "SELECT COUNT(*) FROM log_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("log store: count: %w", err)
	}
	defer s.pool.Put(conn)

	var total int64
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("log store: count: %w", err)
	}
	return total, nil
}

// Get fetches a single entry by id.
func (s *Store) Get(ctx context.Context, id int64) (types.LogEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return types.LogEntry{}, fmt.Errorf("log store: get: %w", err)
	}
	defer s.pool.Put(conn)

	var entry types.LogEntry
	found := false
	err = sqlitex.ExecuteTransient(conn,
		"SELECT id, timestamp, service_name, level, message, context, "+
			"trace_id, user_id, hostname, process_id FROM log_entries WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entry = scanned
				found = true
				return nil
			},
		})
	if err != nil {
		return types.LogEntry{}, fmt.Errorf("log store: get: %w", err)
	}
	if !found {
		return types.LogEntry{}, fmt.Errorf("log store: entry %d: %w", id, types.ErrNotFound)
	}
	return entry, nil
}

// Stats summarizes entry counts by level since a cutoff. The dashboard
// uses it for the error/warning tiles.
type Stats struct {
	Since   time.Time                `json:"since"`
	Total   int64                    `json:"total"`
	ByLevel map[types.LogLevel]int64 `json:"by_level"`
}

// QueryStats counts entries at or after since, grouped by level.
func (s *Store) QueryStats(ctx context.Context, since time.Time) (Stats, error) {
	stats := Stats{
		Since:   since.UTC(),
		ByLevel: make(map[types.LogLevel]int64),
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return stats, fmt.Errorf("log store: stats: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteTransient(conn,
		"SELECT level, COUNT(*) FROM log_entries WHERE timestamp >= ? GROUP BY level",
		&sqlitex.ExecOptions{
			Args: []any{nanos(since)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count := stmt.ColumnInt64(1)
				stats.ByLevel[types.LogLevel(stmt.ColumnText(0))] = count
				stats.Total += count
				return nil
			},
		})
	if err != nil {
		return stats, fmt.Errorf("log store: stats: %w", err)
	}
	return stats, nil
}

// ServiceLevelCounts counts entries at or after since, grouped by
// service and level. One query feeds the whole dashboard grid.
func (s *Store) ServiceLevelCounts(ctx context.Context, since time.Time) (map[string]map[types.LogLevel]int64, error) {
	counts := make(map[string]map[types.LogLevel]int64)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("log store: service stats: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteTransient(conn,
		`SELECT service_name, level, COUNT(*) FROM log_entries
		 WHERE timestamp >= ? GROUP BY service_name, level`,
		&sqlitex.ExecOptions{
			Args: []any{nanos(since)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				service := stmt.ColumnText(0)
				byLevel, ok := counts[service]
				if !ok {
					byLevel = make(map[types.LogLevel]int64)
					counts[service] = byLevel
				}
				byLevel[types.LogLevel(stmt.ColumnText(1))] = stmt.ColumnInt64(2)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("log store: service stats: %w", err)
	}
	return counts, nil
}

var allLevels = []types.LogLevel{
	types.LevelDebug,
	types.LevelInfo,
	types.LevelWarning,
	types.LevelError,
	types.LevelCritical,
}

// levelsAtOrAbove expands a minimum level into the explicit level set,
// which the (level, timestamp) index can serve directly. Returns nil
// for unknown levels.
func levelsAtOrAbove(min types.LogLevel) []types.LogLevel {
	normalized, err := types.ParseLogLevel(string(min))
	if err != nil {
		return nil
	}

	var out []types.LogLevel
	for _, level := range allLevels {
		if level.Severity() >= normalized.Severity() {
			out = append(out, level)
		}
	}
	return out
}

func scanEntry(stmt *sqlite.Stmt) (types.LogEntry, error) {
	entry := types.LogEntry{
		ID:          stmt.ColumnInt64(0),
		Timestamp:   time.Unix(0, stmt.ColumnInt64(1)).UTC(),
		ServiceName: stmt.ColumnText(2),
		Level:       types.LogLevel(stmt.ColumnText(3)),
		Message:     stmt.ColumnText(4),
	}

	if !stmt.ColumnIsNull(5) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(5)), &entry.Context); err != nil {
			return entry, fmt.Errorf("unmarshal context for entry %d: %w", entry.ID, err)
		}
	}

	entry.TraceID = stmt.ColumnText(6)
	entry.UserID = stmt.ColumnText(7)
	entry.Hostname = stmt.ColumnText(8)
	entry.ProcessID = stmt.ColumnInt(9)
	return entry, nil
}
