package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helm_services_total",
			Help: "Total number of services in the catalog",
		},
	)

	ServicesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helm_services_by_status",
			Help: "Number of services by process status",
		},
		[]string{"status"},
	)

	// Per-service metrics
	ServiceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helm_service_up",
			Help: "Whether the service process is running (1) or not (0)",
		},
		[]string{"service"},
	)

	ServiceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helm_service_cpu_percent",
			Help: "Service CPU usage as percent of one core",
		},
		[]string{"service"},
	)

	ServiceMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helm_service_memory_mb",
			Help: "Service resident memory in megabytes",
		},
		[]string{"service"},
	)

	ServiceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helm_service_crashes_total",
			Help: "Total number of detected service crashes",
		},
		[]string{"service"},
	)

	ServiceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helm_service_starts_total",
			Help: "Total number of service starts by outcome",
		},
		[]string{"service", "outcome"},
	)

	// Health probe metrics
	HealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helm_health_checks_total",
			Help: "Total number of health probes by observed state",
		},
		[]string{"service", "state"},
	)

	MonitorSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helm_monitor_sweep_duration_seconds",
			Help:    "Duration of one full monitoring sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helm_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Log store metrics
	LogEntriesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helm_log_entries_ingested_total",
			Help: "Total number of log entries accepted by the store",
		},
	)

	LogBatchesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helm_log_batches_rejected_total",
			Help: "Total number of log batches rejected as malformed",
		},
	)

	// IDP bootstrap metrics
	IDPBootstraps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helm_idp_bootstrap_total",
			Help: "Total number of identity provider bootstrap runs by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(ServicesByStatus)
	prometheus.MustRegister(ServiceUp)
	prometheus.MustRegister(ServiceCPUPercent)
	prometheus.MustRegister(ServiceMemoryMB)
	prometheus.MustRegister(ServiceCrashes)
	prometheus.MustRegister(ServiceStarts)
	prometheus.MustRegister(HealthChecks)
	prometheus.MustRegister(MonitorSweepDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(LogEntriesIngested)
	prometheus.MustRegister(LogBatchesRejected)
	prometheus.MustRegister(IDPBootstraps)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
