package metrics

import (
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

// StatusProvider is the read surface the collector polls. The
// orchestrator implements it; an interface here keeps the metrics
// package free of a dependency on the orchestrator.
type StatusProvider interface {
	Statuses() map[string]types.ServiceStatus
}

// Collector periodically publishes catalog-wide gauges from the
// current service statuses.
type Collector struct {
	provider StatusProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector over a status provider.
func NewCollector(provider StatusProvider) *Collector {
	return &Collector{
		provider: provider,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	statuses := c.provider.Statuses()

	ServicesTotal.Set(float64(len(statuses)))

	statusCounts := make(map[types.ProcessState]int)
	for name, status := range statuses {
		statusCounts[status.Status]++

		up := 0.0
		if status.Status == types.ProcessRunning {
			up = 1.0
		}
		ServiceUp.WithLabelValues(name).Set(up)
		ServiceCPUPercent.WithLabelValues(name).Set(status.CPUPercent)
		ServiceMemoryMB.WithLabelValues(name).Set(status.MemoryMB)
	}

	ServicesByStatus.Reset()
	for state, count := range statusCounts {
		ServicesByStatus.WithLabelValues(string(state)).Set(float64(count))
	}
}
