package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

// TCPChecker probes whether a service's port is accepting connections
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g., "localhost:5000")
	Address string

	// Timeout is the connection timeout
	Timeout time.Duration
}

// NewTCPChecker creates a checker for a local service port.
func NewTCPChecker(port int) *TCPChecker {
	return &TCPChecker{
		Address: fmt.Sprintf("localhost:%d", port),
		Timeout: 2 * time.Second,
	}
}

// Check performs the TCP probe
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failure(start, fmt.Sprintf("port not accepting connections: %v", err))
	}
	conn.Close()

	return Result{
		State:     types.HealthHealthy,
		Message:   fmt.Sprintf("port %s accepting connections", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
