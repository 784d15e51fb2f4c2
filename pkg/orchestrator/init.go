package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/appconfig"
	"github.com/hivematrix/helm/pkg/config"
	"github.com/hivematrix/helm/pkg/dbadmin"
	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/registry"
	"github.com/hivematrix/helm/pkg/types"
)

// initIDPTimeout bounds how long init waits for a reachable identity
// provider before skipping its bootstrap.
const initIDPTimeout = 5 * time.Second

// InitReport summarizes what `helm init` changed so the CLI can print
// a useful account of a fresh or repeated run.
type InitReport struct {
	Root            string
	ConfigCreated   bool
	CatalogReady    bool
	ServicesSynced  []string
	SyncFailures    map[string]string
	Databases       map[string]dbadmin.Provision
	KeypairCreated  bool
	IDPBootstrapped bool
	Warnings        []string
}

func (r *InitReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Init prepares a platform root for first use: directory skeleton,
// default master config, service manifest and registry projections,
// app database provisioning, the identity service's signing keypair,
// IDP bootstrap when one is already reachable, and an initial config
// sync. Every step is idempotent; rerunning converges instead of
// duplicating. Steps whose external dependency is absent are skipped
// with a warning rather than failing the whole run.
func Init(ctx context.Context, rt *Runtime, logger zerolog.Logger) (*InitReport, error) {
	if rt == nil {
		rt = DefaultRuntime()
	}
	logger = logger.With().Str("component", "init").Logger()

	layout, err := paths.NewLayout(rt.Root)
	if err != nil {
		return nil, err
	}
	report := &InitReport{Root: layout.Root()}

	if err := layout.EnsureAll(); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(layout.MasterConfigPath())
	report.ConfigCreated = os.IsNotExist(statErr)

	store := config.NewStore(layout.MasterConfigPath())
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	if detected := config.DetectHostname(); config.HostnameChanged(cfg.System.Hostname, detected) {
		logger.Info().Str("hostname", detected).Msg("Recording detected hostname")
		if err := store.SetHostname(detected); err != nil {
			return nil, err
		}
		cfg = store.Current()
	}

	reg := registry.NewRegistry(layout)
	if err := reg.Reconcile(); err != nil {
		// Core checkouts may not be cloned yet; init still does
		// everything that does not need the catalog.
		report.warnf("service catalog not ready: %v", err)
	} else {
		report.CatalogReady = true
	}

	report.Databases = provisionDatabases(ctx, store, cfg, report, logger)
	cfg = store.Current()

	if report.CatalogReady {
		if entry, err := reg.Get(types.IdentityServiceName); err == nil {
			created, err := ensureKeypair(entry.DirectoryPath)
			if err != nil {
				return nil, err
			}
			report.KeypairCreated = created
		}

		report.IDPBootstrapped = bootstrapIfReachable(ctx, store, cfg, report, logger)
		cfg = store.Current()

		synth := appconfig.NewSynthesizer()
		sync := synth.SyncAll(cfg, reg.List(), reg.Thin())
		report.ServicesSynced = sync.Synced
		report.SyncFailures = sync.Failed
	}

	logger.Info().
		Str("root", report.Root).
		Bool("config_created", report.ConfigCreated).
		Bool("catalog_ready", report.CatalogReady).
		Int("databases", len(report.Databases)).
		Msg("Init complete")
	return report, nil
}

// provisionDatabases converges roles and databases for every app that
// declares PostgreSQL, persisting generated credentials back into the
// master config. An unreachable server downgrades to a warning.
func provisionDatabases(ctx context.Context, store *config.Store, cfg *types.MasterConfig, report *InitReport, logger zerolog.Logger) map[string]dbadmin.Provision {
	var wanted []string
	for name, app := range cfg.Apps {
		if app.DatabaseKind == "postgresql" {
			wanted = append(wanted, name)
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	sort.Strings(wanted)

	admin, err := dbadmin.Connect(ctx, cfg.Databases.Relational)
	if err != nil {
		report.warnf("postgres unreachable, skipped provisioning for %d apps: %v", len(wanted), err)
		return nil
	}
	defer admin.Close()

	provisions, err := admin.EnsureAll(ctx, cfg.Apps)
	if err != nil {
		report.warnf("database provisioning incomplete: %v", err)
	}
	for name, prov := range provisions {
		app := cfg.Apps[name]
		if prov.Dirty(app) {
			if err := store.UpdateApp(name, prov.Apply(app)); err != nil {
				report.warnf("persisting credentials for %s: %v", name, err)
			}
		}
	}
	logger.Info().Int("count", len(provisions)).Msg("App databases converged")
	return provisions
}

// ensureKeypair generates the identity service's signing keypair and
// reports whether this run created it.
func ensureKeypair(serviceDir string) (bool, error) {
	privPath := filepath.Join(serviceDir, "keys", "jwt_private.pem")
	_, statErr := os.Stat(privPath)
	if err := appconfig.EnsureJWTKeypair(serviceDir); err != nil {
		return false, err
	}
	return os.IsNotExist(statErr), nil
}

// bootstrapIfReachable runs the full IDP bootstrap when the provider
// answers within a short window. Most fresh installs run init before
// the IDP is up; the boot-time reconcile or the bootstrap endpoint
// covers them later.
func bootstrapIfReachable(ctx context.Context, store *config.Store, cfg *types.MasterConfig, report *InitReport, logger zerolog.Logger) bool {
	if cfg.IdentityProvider.URL == "" || cfg.IdentityProvider.ClientSecret != "" {
		return false
	}

	client, err := idp.NewClient(idp.Config{
		BaseURL:       idpBaseURL(cfg),
		Realm:         cfg.IdentityProvider.Realm,
		AdminUsername: cfg.IdentityProvider.AdminUsername,
		AdminPassword: cfg.IdentityProvider.AdminPassword,
		Logger:        logger,
	})
	if err != nil {
		report.warnf("identity provider config rejected: %v", err)
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, initIDPTimeout)
	defer cancel()
	if err := client.WaitReady(waitCtx); err != nil {
		report.warnf("identity provider not reachable, bootstrap deferred to first boot")
		return false
	}

	result, err := client.Bootstrap(ctx, idp.BootstrapParams{
		ClientID:      cfg.IdentityProvider.ClientID,
		Hostname:      cfg.System.Hostname,
		AdminUsername: platformAdminUsername,
		AdminPassword: platformAdminPassword,
		FreshInstall:  true,
	})
	if err != nil {
		report.warnf("IDP bootstrap failed: %v", err)
		return false
	}
	if result.ClientSecret != "" {
		if err := store.SetClientSecret(result.ClientSecret); err != nil {
			report.warnf("persisting client secret: %v", err)
		}
	}
	logger.Info().Str("realm", cfg.IdentityProvider.Realm).Msg("Identity provider bootstrapped")
	return true
}

// Sync regenerates the registry projections and every service's
// synthesized files without a running orchestrator. The CLI's `sync`
// command uses it after manual edits to the master config.
func Sync(rt *Runtime, logger zerolog.Logger) (*appconfig.SyncReport, error) {
	if rt == nil {
		rt = DefaultRuntime()
	}

	layout, err := paths.NewLayout(rt.Root)
	if err != nil {
		return nil, err
	}
	if err := layout.EnsureAll(); err != nil {
		return nil, err
	}

	store := config.NewStore(layout.MasterConfigPath())
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(layout)
	if err := reg.Reconcile(); err != nil {
		return nil, err
	}

	report := appconfig.NewSynthesizer().SyncAll(cfg, reg.List(), reg.Thin())
	for name, msg := range report.Failed {
		logger.Warn().Str("service", name).Str("error", msg).Msg("Config synthesis failed")
	}
	return report, nil
}
