package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hivematrix/helm/pkg/procfs"
	"github.com/hivematrix/helm/pkg/types"
)

// ProcessChecker verifies that a recorded PID is alive and, when an
// expected argument is set, that the command line still belongs to the
// service. The second half matters after a host reboot: PIDs get
// recycled, and adopting someone else's process would be worse than
// reporting a stopped service.
type ProcessChecker struct {
	PID int

	// ExpectArg, when non-empty, must appear in one of the process's
	// argv entries.
	ExpectArg string
}

// NewProcessChecker creates a liveness checker for a PID.
func NewProcessChecker(pid int) *ProcessChecker {
	return &ProcessChecker{PID: pid}
}

// WithExpectedArg requires a command-line match in addition to
// liveness.
func (p *ProcessChecker) WithExpectedArg(arg string) *ProcessChecker {
	p.ExpectArg = arg
	return p
}

// Check performs the process probe
func (p *ProcessChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if !procfs.Alive(p.PID) {
		return failure(start, fmt.Sprintf("process %d not running", p.PID))
	}

	if p.ExpectArg != "" {
		argv := procfs.ReadCmdline(p.PID)
		if len(argv) > 0 && !argvContains(argv, p.ExpectArg) {
			return failure(start, fmt.Sprintf("pid %d now runs %q", p.PID, argv[0]))
		}
	}

	return Result{
		State:     types.HealthHealthy,
		Message:   fmt.Sprintf("process %d alive", p.PID),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func argvContains(argv []string, fragment string) bool {
	for _, arg := range argv {
		if strings.Contains(arg, fragment) {
			return true
		}
	}
	return false
}

// Type returns the health check type
func (p *ProcessChecker) Type() CheckType {
	return CheckTypeProcess
}
