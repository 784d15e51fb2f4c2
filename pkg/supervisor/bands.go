package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/hivematrix/helm/pkg/types"
)

// bands groups install-order-sorted entries into runs of equal order.
// Services within a band have no ordering relationship and may start
// or stop in parallel.
func bands(entries []types.ServiceEntry) [][]types.ServiceEntry {
	var grouped [][]types.ServiceEntry
	for _, entry := range entries {
		if n := len(grouped); n > 0 && grouped[n-1][0].InstallOrder == entry.InstallOrder {
			grouped[n-1] = append(grouped[n-1], entry)
			continue
		}
		grouped = append(grouped, []types.ServiceEntry{entry})
	}
	return grouped
}

// StartAll launches every catalog service band by band in install
// order, waiting for each band before the next. Services already
// running count as satisfied. Returns how many services were newly
// started plus the aggregate of per-service failures; a failed band
// does not stop later bands from being attempted.
func (s *Supervisor) StartAll(ctx context.Context, mode types.RunMode) (int, error) {
	var (
		mu      sync.Mutex
		started int
		errs    []error
	)
	for _, band := range bands(s.sortedEntries()) {
		var wg sync.WaitGroup
		for _, entry := range band {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Start(ctx, entry.Name, mode)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					started++
				case errors.Is(err, types.ErrAlreadyRunning):
					// Already up is the goal state of a bulk start.
				default:
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()
	}
	return started, errors.Join(errs...)
}

// StopAll stops every catalog service in reverse install order,
// parallel within a band. Already-stopped services are no-ops. Returns
// how many running services were brought down.
func (s *Supervisor) StopAll(ctx context.Context) (int, error) {
	grouped := bands(s.sortedEntries())

	var (
		mu      sync.Mutex
		stopped int
		errs    []error
	)
	for i := len(grouped) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, entry := range grouped[i] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wasUp := s.Record(entry.Name).Status == types.ProcessRunning
				err := s.Stop(ctx, entry.Name)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if wasUp {
					stopped++
				}
			}()
		}
		wg.Wait()
	}
	return stopped, errors.Join(errs...)
}
