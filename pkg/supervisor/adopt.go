package supervisor

import (
	"github.com/hivematrix/helm/pkg/types"
)

// AdoptAll reconciles on-disk pidfiles with live processes after an
// orchestrator restart. A pidfile whose PID is alive and verifiably
// belongs to the service flips that record straight to running without
// touching the process; anything else is a stale pidfile and is
// removed. Returns how many services were adopted.
func (s *Supervisor) AdoptAll() int {
	adopted := 0
	for _, entry := range s.sortedEntries() {
		h := s.handleFor(entry.Name)
		h.mu.Lock()
		if s.adoptEntryLocked(h, entry) {
			adopted++
		}
		h.mu.Unlock()
	}
	if adopted > 0 {
		s.logger.Info().Int("adopted", adopted).Msg("Adopted services from previous run")
	}
	return adopted
}

func (s *Supervisor) adoptEntryLocked(h *handle, entry types.ServiceEntry) bool {
	pidPath := s.layout.PIDFile(entry.Name)
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return false
	}
	if processMatchesEntry(pid, s.serviceDir(entry)) {
		s.adoptLocked(h, entry, pid)
		return true
	}
	removePIDFile(pidPath)
	s.logger.Info().Str("service", entry.Name).Int("pid", pid).
		Msg("Removed stale pidfile")
	return false
}
