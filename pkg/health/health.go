package health

import (
	"context"
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

// CheckType represents the kind of probe
type CheckType string

const (
	CheckTypeHTTP    CheckType = "http"
	CheckTypeTCP     CheckType = "tcp"
	CheckTypeProcess CheckType = "process"
)

// Result represents the outcome of a single probe
type Result struct {
	State     types.HealthState
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Reachable reports whether the probe got any answer at all. Degraded
// services are reachable; unreachable and unknown are not.
func (r Result) Reachable() bool {
	return r.State == types.HealthHealthy || r.State == types.HealthDegraded
}

// Checker is the interface all probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the kind of probe
	Type() CheckType
}

func failure(start time.Time, message string) Result {
	return Result{
		State:     types.HealthUnreachable,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
