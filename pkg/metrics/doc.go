/*
Package metrics provides Prometheus metrics collection and exposition for Helm.

All metrics are registered against the default Prometheus registry at
package init and exposed through promhttp on the control API's /metrics
endpoint. The collector periodically samples the service catalog so
gauges track the supervisor's view of the platform without every
subsystem pushing its own updates.

# Metric Categories

Platform state (gauges, sampled by the Collector):

	helm_services_total              services in the registry
	helm_services_by_status         services per lifecycle status
	helm_service_up                  1 when the process is running
	helm_service_cpu_percent        CPU usage from /proc sampling
	helm_service_memory_mb          resident memory from /proc sampling

Lifecycle events (counters, incremented at the source):

	helm_service_crashes_total      unexpected process exits
	helm_service_starts_total       start attempts by outcome
	helm_health_checks_total        probe results by resulting state
	helm_idp_bootstrap_total        identity provider bootstrap runs

Control plane (instrumented in the API middleware):

	helm_api_requests_total         requests by method and status
	helm_api_request_duration_seconds
	helm_monitor_sweep_duration_seconds

Log pipeline:

	helm_log_entries_ingested_total
	helm_log_batches_rejected_total

# Self Health

The package also tracks the orchestrator's own component health.
Subsystems register themselves and flip their state as they see fit:

	metrics.RegisterComponent("log_store", true, "")
	metrics.UpdateComponent("log_store", false, "database locked")

GetHealth folds the component reports into the same health document
shape the monitor reads from managed services, so the orchestrator can
be probed exactly like anything else on the platform. A failing
subsystem degrades the report but never makes it worse than "degraded":
if the handler answered, the process is alive.

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MonitorSweepDuration)

Recording a lifecycle event:

	metrics.ServiceStarts.WithLabelValues("codex", "ok").Inc()
	metrics.ServiceCrashes.WithLabelValues("codex").Inc()

Exposition:

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics
