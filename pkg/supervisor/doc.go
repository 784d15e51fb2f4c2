// Package supervisor owns the operating-system process lifecycle of
// every managed service: launch, liveness, adoption of survivors from
// a previous orchestrator run, and orderly shutdown.
//
// Each service has exactly one ProcessRecord, created on first
// reference and mutated in place under a per-service lock, so start
// and stop for the same service are serialized while different
// services proceed in parallel. Children are spawned in their own
// session with stdout and stderr appended to per-service log files,
// and their PIDs are written to pidfiles that a later orchestrator
// process uses to adopt them instead of restarting.
//
// Bulk operations group services into install-order bands: StartAll
// walks bands forward, StopAll backward, running each band's services
// concurrently and waiting for the band to settle before moving on.
package supervisor
