package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ComponentCheck is one subsystem's contribution to the orchestrator's
// own health document.
type ComponentCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthDocument is the orchestrator's own /health response. It uses
// the same shape the monitor expects from managed services, so the
// orchestrator can be probed like any other platform service.
type HealthDocument struct {
	Status    string                    `json:"status"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
	Version   string                    `json:"version,omitempty"`
	Uptime    string                    `json:"uptime,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker manages health reports from orchestrator subsystems
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent registers a component for health reporting
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent updates the health status of a component
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message) // Same implementation
}

// GetHealth returns the orchestrator's own health document. The
// process is answering, so the floor is "degraded", never worse: a
// broken subsystem must not make the whole orchestrator look absent.
func GetHealth() HealthDocument {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	checks := make(map[string]ComponentCheck, len(healthChecker.components))

	for name, comp := range healthChecker.components {
		if comp.Healthy {
			checks[name] = ComponentCheck{Status: "healthy"}
		} else {
			status = "degraded"
			checks[name] = ComponentCheck{Status: "degraded", Message: comp.Message}
		}
	}

	return HealthDocument{
		Status:    status,
		Checks:    checks,
		Version:   healthChecker.version,
		Uptime:    time.Since(healthChecker.startTime).String(),
		Timestamp: time.Now(),
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint.
// Always 200: reachability is the transport's answer, the document
// carries the nuance.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(GetHealth())
	}
}
