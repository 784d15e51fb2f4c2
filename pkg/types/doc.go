/*
Package types defines the core data structures used throughout Helm.

This package contains the fundamental types of Helm's domain model:
the service catalog, process supervision records, health and metric
reports, the centralized log schema, and the master configuration
document. Every other package builds on these types for state
management, API payloads and orchestration logic.

# Core Types

Catalog:
  - ServiceEntry: one known service with port, dependencies, install
    order and launch information
  - ServiceSource: core_required, default_optional or discovered,
    ranked for tie-breaking during registry reconciliation

Supervision:
  - ProcessRecord: the supervisor's mutable per-service record (PID,
    state, mode, log paths, last error)
  - ProcessState: stopped, starting, running, stopping, error
  - RunMode: development or production launch behavior

Monitoring:
  - ServiceStatus: the monitor-owned join of process state, health
    verdict and resource usage
  - HealthState: healthy, degraded, unreachable, unknown
  - MetricSample: append-only historical CPU/memory measurement

Centralized logging:
  - LogEntry: one immutable row of the platform log store
  - LogLevel: DEBUG..CRITICAL with Python-logging severity numbers,
    matching what the managed services emit
  - LogFilter: query parameters for the store

Configuration:
  - MasterConfig: the single persisted source of truth (host identity,
    identity provider, database endpoints, per-app overrides)

# Error Kinds

Sentinel errors (ErrPortInUse, ErrAlreadyRunning, ...) carry the
machine-readable kind strings surfaced by the API and CLI. Use
errors.Is to classify and ErrorKind to extract the kind string.

# State Machine

Process records follow:

	stopped → starting → running → stopping → stopped
	             ↓           ↓
	           error       error

error is entered on spawn failure, start timeout, or crash detection;
start(name) is permitted from stopped and error only.

# Thread Safety

Types here carry no locks. The supervisor guards ProcessRecord and
ServiceStatus with per-service mutexes; the config store guards
MasterConfig with a single RWMutex and hands out Clone()d snapshots.
*/
package types
