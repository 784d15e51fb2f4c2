package orchestrator

import (
	"context"

	"github.com/hivematrix/helm/pkg/types"
)

// Statuses snapshots the monitor's latest sweep for every service.
func (o *Orchestrator) Statuses() map[string]types.ServiceStatus {
	return o.mon.Statuses()
}

// Status reports one service. Before the monitor's first sweep covers
// the service, a synthetic snapshot is built from the catalog entry
// and the supervisor record with health unknown.
func (o *Orchestrator) Status(name string) (types.ServiceStatus, error) {
	if st, ok := o.mon.Status(name); ok {
		return st, nil
	}

	entry, err := o.registry.Get(name)
	if err != nil {
		return types.ServiceStatus{}, err
	}
	rec := o.sup.Record(name)
	state := rec.Status
	if state == "" {
		state = types.ProcessStopped
	}
	return types.ServiceStatus{
		ServiceName: name,
		Status:      state,
		PID:         rec.PID,
		Port:        entry.Port,
		StartedAt:   rec.StartedAt,
		Health:      types.HealthUnknown,
	}, nil
}

// serviceControl carries the per-service Start handed to the API's
// Controller interface: Orchestrator.Start is the boot sequence, and
// one type cannot hold both signatures under one name. Embedding
// promotes the rest of the Controller surface from the orchestrator.
type serviceControl struct{ *Orchestrator }

// Start launches a service and returns its post-sweep status.
func (o serviceControl) Start(ctx context.Context, name string, mode types.RunMode) (types.ServiceStatus, error) {
	if mode == "" && o.runtime.DevMode {
		mode = types.RunModeDevelopment
	}
	if err := o.sup.Start(ctx, name, mode); err != nil {
		return types.ServiceStatus{}, err
	}
	o.mon.Sweep(ctx)
	return o.Status(name)
}

// Stop terminates a service and returns its post-sweep status.
func (o *Orchestrator) Stop(ctx context.Context, name string) (types.ServiceStatus, error) {
	if err := o.sup.Stop(ctx, name); err != nil {
		return types.ServiceStatus{}, err
	}
	o.mon.Sweep(ctx)
	return o.Status(name)
}

// Restart bounces a service and returns its post-sweep status.
func (o *Orchestrator) Restart(ctx context.Context, name string, mode types.RunMode) (types.ServiceStatus, error) {
	if mode == "" && o.runtime.DevMode {
		mode = types.RunModeDevelopment
	}
	if err := o.sup.Restart(ctx, name, mode); err != nil {
		return types.ServiceStatus{}, err
	}
	o.mon.Sweep(ctx)
	return o.Status(name)
}

// StartAll launches every catalog service in install order. Used by
// the CLI's --all path, not the HTTP API.
func (o *Orchestrator) StartAll(ctx context.Context, mode types.RunMode) (int, error) {
	if mode == "" && o.runtime.DevMode {
		mode = types.RunModeDevelopment
	}
	started, err := o.sup.StartAll(ctx, mode)
	o.mon.Sweep(ctx)
	return started, err
}

// StopAll terminates every running service in reverse install order.
func (o *Orchestrator) StopAll(ctx context.Context) (int, error) {
	stopped, err := o.sup.StopAll(ctx)
	o.mon.Sweep(ctx)
	return stopped, err
}

// PrepareService regenerates one service's synthesized files right
// before launch so it always boots against current platform state.
func (o *Orchestrator) PrepareService(name string) error {
	entry, err := o.registry.Get(name)
	if err != nil {
		return err
	}
	return o.synth.WriteService(o.store.Current(), entry, o.registry.Thin())
}
