package metricstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/hivematrix/helm/pkg/types"
)

var bucketSamples = []byte("samples")

const (
	// DefaultRetentionDays is how much sample history is kept. The
	// monitor writes two samples per service every sweep, so a week
	// is plenty for the dashboard charts.
	DefaultRetentionDays = 7

	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000

	retentionSweepInterval = 24 * time.Hour
)

// Config holds the parameters for opening a metric store.
type Config struct {
	// Path is the bbolt database file. Created on first open.
	Path string

	// RetentionDays is the age horizon for the purge loop. Values
	// below 1 fall back to DefaultRetentionDays.
	RetentionDays int

	Logger zerolog.Logger
}

// Store keeps per-service resource-sample history in bbolt. Samples
// live in one nested bucket per service, keyed by timestamp so range
// scans walk them in time order.
type Store struct {
	db            *bolt.DB
	logger        zerolog.Logger
	retentionDays int

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Query selects samples for one service. Zero time bounds are open;
// the API layer applies its default window before calling.
type Query struct {
	ServiceName string
	MetricName  string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Open opens (or creates) the metric database.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("metric store: path is required")
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	db, err := bolt.Open(cfg.Path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("metric store: opening %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSamples)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metric store: creating bucket: %w", err)
	}

	return &Store{
		db:            db,
		logger:        cfg.Logger,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
	}, nil
}

// Close stops the retention loop and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return s.db.Close()
}

// Record appends samples in one transaction. Samples without a
// timestamp are stamped with the current time.
func (s *Store) Record(samples []types.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	now := time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketSamples)
		for i := range samples {
			sample := samples[i]
			if sample.Timestamp.IsZero() {
				sample.Timestamp = now
			}
			sample.Timestamp = sample.Timestamp.UTC()

			if !types.ValidServiceName(sample.ServiceName) {
				return fmt.Errorf("metric store: invalid service name %q: %w",
					sample.ServiceName, types.ErrInvalidInput)
			}
			if sample.MetricName == "" {
				return fmt.Errorf("metric store: empty metric name: %w", types.ErrInvalidInput)
			}

			b, err := root.CreateBucketIfNotExists([]byte(sample.ServiceName))
			if err != nil {
				return fmt.Errorf("metric store: bucket %s: %w", sample.ServiceName, err)
			}

			data, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("metric store: marshal sample: %w", err)
			}
			if err := b.Put(sampleKey(sample.Timestamp, sample.MetricName), data); err != nil {
				return fmt.Errorf("metric store: put sample: %w", err)
			}
		}
		return nil
	})
}

// QuerySamples returns samples for one service, newest first. Returns
// ErrNotFound when the service has no history at all.
func (s *Store) QuerySamples(q Query) ([]types.MetricSample, error) {
	if q.ServiceName == "" {
		return nil, fmt.Errorf("metric store: service name is required: %w", types.ErrInvalidInput)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var results []types.MetricSample
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples).Bucket([]byte(q.ServiceName))
		if b == nil {
			return fmt.Errorf("metric store: no samples for %s: %w", q.ServiceName, types.ErrNotFound)
		}

		var lower []byte
		if !q.Since.IsZero() {
			lower = sampleKey(q.Since, "")
		}

		c := b.Cursor()
		k, v := descendFrom(c, q.Until)
		for ; k != nil; k, v = c.Prev() {
			if lower != nil && bytes.Compare(k, lower) < 0 {
				break
			}
			if q.MetricName != "" && string(k[8:]) != q.MetricName {
				continue
			}

			var sample types.MetricSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("metric store: unmarshal sample: %w", err)
			}
			results = append(results, sample)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Prune deletes samples older than the cutoff across every service
// and reports how many were removed. Service buckets left empty are
// dropped so a renamed service does not linger forever.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	cutoffKey := sampleKey(cutoff, "")
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketSamples)

		var empty [][]byte
		err := root.ForEachBucket(func(name []byte) error {
			b := root.Bucket(name)
			c := b.Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k, cutoffKey) < 0; k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
			if k, _ := b.Cursor().First(); k == nil {
				empty = append(empty, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, name := range empty {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("metric store: prune: %w", err)
	}
	return removed, nil
}

// StartRetention launches the daily purge loop. Close stops it.
func (s *Store) StartRetention() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.pruneExpired()

		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.pruneExpired()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Store) pruneExpired() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	removed, err := s.Prune(cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Metric retention sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Int("retention_days", s.retentionDays).
			Msg("Pruned expired metric samples")
	}
}

// sampleKey packs a timestamp and metric name so keys sort by time
// first. The 8-byte big-endian nanosecond prefix dominates ordering.
func sampleKey(ts time.Time, metric string) []byte {
	key := make([]byte, 8+len(metric))
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UTC().UnixNano()))
	copy(key[8:], metric)
	return key
}

// descendFrom positions a cursor on the newest key at or before the
// until bound (or the very last key when until is zero) for a
// descending walk.
func descendFrom(c *bolt.Cursor, until time.Time) ([]byte, []byte) {
	if until.IsZero() {
		return c.Last()
	}

	// Seek the first key strictly after the bound, then step back.
	upper := sampleKey(until.Add(time.Nanosecond), "")
	if k, _ := c.Seek(upper); k == nil {
		return c.Last()
	}
	return c.Prev()
}
