package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/api"
	"github.com/hivematrix/helm/pkg/appconfig"
	"github.com/hivematrix/helm/pkg/auth"
	"github.com/hivematrix/helm/pkg/config"
	"github.com/hivematrix/helm/pkg/events"
	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/metricstore"
	"github.com/hivematrix/helm/pkg/monitor"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/registry"
	"github.com/hivematrix/helm/pkg/supervisor"
	"github.com/hivematrix/helm/pkg/types"
)

const (
	// jwksPath and sessionValidatePath are the identity service's
	// verification endpoints, relative to core_service_url.
	jwksPath            = "/.well-known/jwks.json"
	sessionValidatePath = "/api/auth/validate-session"

	// sessionCacheTTL bounds how stale a cached session-validity
	// answer may be before the identity service is asked again.
	sessionCacheTTL = 30 * time.Second

	// idpReadyTimeout is how long boot waits for the identity
	// provider before deferring reconciliation to an explicit
	// bootstrap call.
	idpReadyTimeout = 15 * time.Second

	// eventIngestTimeout bounds each event-to-log-entry insert.
	eventIngestTimeout = 3 * time.Second
)

// Config holds what an Orchestrator needs to boot.
type Config struct {
	Runtime *Runtime
	Logger  zerolog.Logger
}

// Orchestrator owns every subsystem of a running platform host: the
// master config store, service registry, config synthesizer, process
// supervisor, health monitor, log and metric stores, event broker,
// identity-provider client and the control API. One instance exists
// per process; all state hangs off it.
type Orchestrator struct {
	runtime *Runtime
	logger  zerolog.Logger

	// runID tags log entries derived from this boot's events so one
	// orchestrator lifetime can be isolated in the central log.
	runID string

	layout   *paths.Layout
	store    *config.Store
	registry *registry.Registry
	synth    *appconfig.Synthesizer
	broker   *events.Broker

	logs      *logstore.Store
	samples   *metricstore.Store
	sup       *supervisor.Supervisor
	mon       *monitor.Monitor
	collector *metrics.Collector
	idp       *idp.Client
	api       *api.Server

	eventsSub  events.Subscriber
	eventsDone chan struct{}
	apiErr     chan error

	// hostnameMoved records that boot detected a hostname different
	// from the stored one; the identity provider's frontend URL must
	// follow.
	hostnameMoved bool
}

// New assembles an Orchestrator around the platform root. Nothing is
// opened or spawned until Start.
func New(cfg Config) (*Orchestrator, error) {
	rt := cfg.Runtime
	if rt == nil {
		rt = DefaultRuntime()
	}

	layout, err := paths.NewLayout(rt.Root)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		runtime:    rt,
		logger:     cfg.Logger.With().Str("component", "orchestrator").Logger(),
		runID:      uuid.NewString(),
		layout:     layout,
		store:      config.NewStore(layout.MasterConfigPath()),
		registry:   registry.NewRegistry(layout),
		synth:      appconfig.NewSynthesizer(),
		broker:     events.NewBroker(),
		eventsDone: make(chan struct{}),
		apiErr:     make(chan error, 1),
	}, nil
}

// Start boots the platform: load config, detect hostname drift,
// reconcile the catalog, open the stores, adopt orphaned processes,
// synthesize configs, reconcile the identity provider when triggered,
// and launch the monitor, collector and control API. Managed services
// are adopted but never auto-started; that is the operator's call.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.layout.EnsureAll(); err != nil {
		return err
	}

	cfg, err := o.store.Load()
	if err != nil {
		return err
	}

	detected := config.DetectHostname()
	if config.HostnameChanged(cfg.System.Hostname, detected) {
		o.logger.Warn().
			Str("stored", cfg.System.Hostname).
			Str("detected", detected).
			Msg("Hostname changed since last boot")
		if err := o.store.SetHostname(detected); err != nil {
			return err
		}
		o.hostnameMoved = true
		cfg = o.store.Current()
	}

	if err := o.registry.Reconcile(); err != nil {
		return fmt.Errorf("reconciling service catalog: %w", err)
	}

	o.logs, err = logstore.Open(logstore.Config{
		Path:          o.layout.LogStorePath(),
		RetentionDays: o.runtime.LogRetentionDays,
		Logger:        o.logger,
	})
	if err != nil {
		return fmt.Errorf("opening log store: %w", err)
	}
	o.logs.StartRetention()
	metrics.RegisterComponent("log_store", true, "")

	o.samples, err = metricstore.Open(metricstore.Config{
		Path:          o.layout.MetricStorePath(),
		RetentionDays: o.runtime.MetricRetentionDays,
		Logger:        o.logger,
	})
	if err != nil {
		return fmt.Errorf("opening metric store: %w", err)
	}
	o.samples.StartRetention()
	metrics.RegisterComponent("metric_store", true, "")

	o.broker.Start()
	o.eventsSub = o.broker.Subscribe()
	go o.consumeEvents()

	o.sup = supervisor.New(supervisor.Config{
		Layout:   o.layout,
		Catalog:  o.registry,
		Preparer: o,
		Events:   o.broker,
		Logger:   o.logger,
		ExtraEnv: o.extraEnvFor,
	})
	if adopted := o.sup.AdoptAll(); adopted > 0 {
		o.logger.Info().Int("count", adopted).Msg("Adopted running services from previous instance")
	}

	o.syncConfigs(cfg)

	if cfg.IdentityProvider.URL != "" {
		idpClient, err := idp.NewClient(idp.Config{
			BaseURL:       idpBaseURL(cfg),
			Realm:         cfg.IdentityProvider.Realm,
			AdminUsername: cfg.IdentityProvider.AdminUsername,
			AdminPassword: cfg.IdentityProvider.AdminPassword,
			Logger:        o.logger,
		})
		if err != nil {
			o.logger.Error().Err(err).Msg("Identity provider config rejected; IDP operations disabled")
		} else {
			o.idp = idpClient
		}
	}
	o.reconcileIdentity(ctx, o.store.Current())

	o.mon = monitor.New(monitor.Config{
		Catalog:  o.registry,
		Records:  o.sup,
		Logs:     o.logs,
		Samples:  o.samples,
		Events:   o.broker,
		Logger:   o.logger,
		Interval: time.Duration(o.runtime.ProbeInterval),
	})
	o.mon.Start()

	o.collector = metrics.NewCollector(o.mon)
	o.collector.Start()

	server, err := api.NewServer(api.Config{
		Addr:     o.runtime.ListenAddr,
		Catalog:  o.registry,
		Control:  serviceControl{o},
		Logs:     o.logs,
		History:  o.samples,
		Admin:    o,
		Users:    o.directory(),
		Verifier: o.verifier(),
		Logger:   o.logger,
	})
	if err != nil {
		return err
	}
	o.api = server
	go func() {
		if err := server.Start(); err != nil {
			o.apiErr <- err
		}
	}()

	o.logger.Info().
		Str("root", o.layout.Root()).
		Str("addr", o.runtime.ListenAddr).
		Str("run_id", o.runID).
		Msg("Orchestrator started")
	return nil
}

// Wait blocks until the context is canceled or the control API fails.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-o.apiErr:
		return fmt.Errorf("control API: %w", err)
	}
}

// Shutdown stops the orchestrator's own loops in reverse boot order.
// Managed services keep running unless stopServices is set; adoption
// on the next boot picks them back up.
func (o *Orchestrator) Shutdown(ctx context.Context, stopServices bool) error {
	if o.api != nil {
		if err := o.api.Stop(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Control API shutdown failed")
		}
	}
	if o.collector != nil {
		o.collector.Stop()
	}
	if o.mon != nil {
		o.mon.Stop()
	}

	if stopServices && o.sup != nil {
		stopped, err := o.sup.StopAll(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Stopping services during shutdown failed")
		}
		o.logger.Info().Int("count", stopped).Msg("Stopped managed services")
	}

	if o.eventsSub != nil {
		o.broker.Unsubscribe(o.eventsSub)
		<-o.eventsDone
	}
	o.broker.Stop()

	if o.samples != nil {
		if err := o.samples.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Closing metric store failed")
		}
	}
	if o.logs != nil {
		if err := o.logs.Close(); err != nil {
			return fmt.Errorf("closing log store: %w", err)
		}
	}

	o.logger.Info().Msg("Orchestrator stopped")
	return nil
}

// syncConfigs regenerates every service's env and conf files and
// publishes the outcome. Per-service failures are logged, not fatal;
// one broken checkout must not block the rest of the platform.
func (o *Orchestrator) syncConfigs(cfg *types.MasterConfig) *appconfig.SyncReport {
	report := o.synth.SyncAll(cfg, o.registry.List(), o.registry.Thin())
	for name, msg := range report.Failed {
		o.logger.Warn().Str("service", name).Str("error", msg).Msg("Config synthesis failed")
	}
	o.broker.Publish(&types.Event{
		Type:    types.EventConfigSynced,
		Message: fmt.Sprintf("Synthesized configuration for %d services", len(report.Synced)),
	})
	return report
}

// extraEnvFor contributes process environment beyond the synthesized
// files. The external identity provider gets its bootstrap admin
// credentials this way; our own config files mean nothing to it.
func (o *Orchestrator) extraEnvFor(entry types.ServiceEntry, _ types.RunMode) []string {
	if entry.ProcessKind != types.ProcessKindExternalJava {
		return nil
	}
	idpCfg := o.store.Current().IdentityProvider
	return []string{
		"KEYCLOAK_ADMIN=" + idpCfg.AdminUsername,
		"KEYCLOAK_ADMIN_PASSWORD=" + idpCfg.AdminPassword,
	}
}

// consumeEvents persists broker events as orchestrator log entries so
// lifecycle history survives in the central store. Crash events are
// skipped; the monitor already writes a richer entry with exit detail.
func (o *Orchestrator) consumeEvents() {
	defer close(o.eventsDone)
	for ev := range o.eventsSub {
		if ev.Type == types.EventServiceCrashed {
			continue
		}
		entry := types.LogEntry{
			Timestamp:   ev.Timestamp,
			ServiceName: paths.OrchestratorName,
			Level:       eventLevel(ev.Type),
			Message:     ev.Message,
			Context:     map[string]any{"event": string(ev.Type)},
			TraceID:     o.runID,
		}
		if ev.ServiceName != "" {
			entry.Context["service"] = ev.ServiceName
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventIngestTimeout)
		if _, err := o.logs.Ingest(ctx, []types.LogEntry{entry}); err != nil {
			o.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to persist event")
		}
		cancel()
	}
}

func eventLevel(t types.EventType) types.LogLevel {
	if t == types.EventHealthChanged {
		return types.LevelWarning
	}
	return types.LevelInfo
}

// verifier builds the token verification chain against the identity
// service: JWKS-backed signature checks plus cached session validity.
func (o *Orchestrator) verifier() *auth.Verifier {
	base := o.runtime.CoreServiceURL
	keys := auth.NewKeySet(base+jwksPath, o.logger)
	sessions := auth.NewSessionCache(auth.NewSessionClient(base+sessionValidatePath), sessionCacheTTL)
	return auth.NewVerifier(keys, sessions, o.logger)
}

// directory exposes the IDP user passthrough to the API, or nil when
// no identity provider is configured. The nil path must return a bare
// nil interface, not a typed nil, or the API would dereference it.
func (o *Orchestrator) directory() api.Directory {
	if o.idp == nil {
		return nil
	}
	return o.idp
}

// idpBaseURL picks the address admin calls go to: the direct backend
// URL when configured, the public URL otherwise.
func idpBaseURL(cfg *types.MasterConfig) string {
	if cfg.IdentityProvider.BackendURL != "" {
		return cfg.IdentityProvider.BackendURL
	}
	return cfg.IdentityProvider.URL
}
