package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/hivematrix/helm/pkg/client"
	"github.com/hivematrix/helm/pkg/types"
)

// Waiter polls the control API until a condition holds or the timeout
// expires.
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultWaiter returns a waiter tuned for local end-to-end runs.
func DefaultWaiter() *Waiter {
	return &Waiter{
		Timeout:  30 * time.Second,
		Interval: 250 * time.Millisecond,
	}
}

// WaitForAPI blocks until /health answers.
func (w *Waiter) WaitForAPI(ctx context.Context, c *client.Client) error {
	return w.poll(ctx, "control API", func() (bool, error) {
		_, err := c.Health()
		return err == nil, err
	})
}

// WaitForStatus blocks until the monitor reports the service in the
// given process state.
func (w *Waiter) WaitForStatus(ctx context.Context, c *client.Client, name string, state types.ProcessState) error {
	return w.poll(ctx, fmt.Sprintf("%s to reach %s", name, state), func() (bool, error) {
		status, err := c.Status(name)
		if err != nil {
			return false, err
		}
		if status.Status != state {
			return false, fmt.Errorf("currently %s", status.Status)
		}
		return true, nil
	})
}

// WaitForHealth blocks until the monitor reports the service at the
// given health state.
func (w *Waiter) WaitForHealth(ctx context.Context, c *client.Client, name string, health types.HealthState) error {
	return w.poll(ctx, fmt.Sprintf("%s to become %s", name, health), func() (bool, error) {
		status, err := c.Status(name)
		if err != nil {
			return false, err
		}
		if status.Health != health {
			return false, fmt.Errorf("currently %s", status.Health)
		}
		return true, nil
	})
}

// WaitForLogCount blocks until at least n entries match the filter.
func (w *Waiter) WaitForLogCount(ctx context.Context, c *client.Client, filter types.LogFilter, n int) error {
	return w.poll(ctx, fmt.Sprintf("%d matching log entries", n), func() (bool, error) {
		page, err := c.QueryLogs(filter)
		if err != nil {
			return false, err
		}
		if page.Total < int64(n) {
			return false, fmt.Errorf("currently %d", page.Total)
		}
		return true, nil
	})
}

func (w *Waiter) poll(ctx context.Context, what string, cond func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond()
		if ok {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("timeout waiting for %s (%v): %w", what, lastErr, ctx.Err())
			}
			return fmt.Errorf("timeout waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}
