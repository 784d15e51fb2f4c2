package logstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"
)

// retentionSweepInterval is how often the purge loop runs. The horizon
// is measured in days, so a daily sweep keeps the drift under one
// interval without hammering the database.
const retentionSweepInterval = 24 * time.Hour

// StartRetention launches the background purge loop. One sweep runs
// immediately so a long-stopped orchestrator catches up on restart.
// Close stops the loop.
func (s *Store) StartRetention() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.purgeExpired()

		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.purgeExpired()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// PurgeOlderThan deletes entries with a timestamp before the cutoff
// and reports how many rows were removed. Deletion by age is the only
// mutation the table permits.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("log store: purge: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteTransient(conn,
		"DELETE FROM log_entries WHERE timestamp < ?",
		&sqlitex.ExecOptions{Args: []any{nanos(cutoff)}})
	if err != nil {
		return 0, fmt.Errorf("log store: purge: %w", err)
	}
	return int64(conn.Changes()), nil
}

func (s *Store) purgeExpired() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	removed, err := s.PurgeOlderThan(context.Background(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Log retention sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Int("retention_days", s.retentionDays).
			Msg("Purged expired log entries")
	}
}
