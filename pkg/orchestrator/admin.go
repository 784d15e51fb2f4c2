package orchestrator

import (
	"context"
	"fmt"

	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/types"
)

// Platform administrator account ensured inside the realm. The
// password is permanent only on fresh installs; recreated accounts get
// it as a temporary credential that must be rotated at first login.
const (
	platformAdminUsername = "admin"
	platformAdminPassword = "changeme"
)

// ConfigSnapshot returns the current master config.
func (o *Orchestrator) ConfigSnapshot() *types.MasterConfig {
	return o.store.Current()
}

// UpdateConfig applies a section patch to the master config, persists
// it and resynthesizes every service's files so the change takes
// effect on next (re)start.
func (o *Orchestrator) UpdateConfig(ctx context.Context, patch map[string]any) (*types.MasterConfig, error) {
	cfg, err := o.store.Update(patch)
	if err != nil {
		return nil, err
	}
	o.syncConfigs(cfg)
	return cfg, nil
}

// BootstrapIDP reconciles the identity provider with the platform's
// desired state: realm, client, groups, mapper and admin account. A
// newly issued client secret is persisted and flowed into every
// service config.
func (o *Orchestrator) BootstrapIDP(ctx context.Context) (*idp.BootstrapResult, error) {
	if o.idp == nil {
		return nil, fmt.Errorf("identity provider is not configured: %w", types.ErrUpstreamUnavailable)
	}

	cfg := o.store.Current()
	result, err := o.idp.Bootstrap(ctx, idp.BootstrapParams{
		ClientID:      cfg.IdentityProvider.ClientID,
		Hostname:      cfg.System.Hostname,
		AdminUsername: platformAdminUsername,
		AdminPassword: platformAdminPassword,
		FreshInstall:  cfg.IdentityProvider.ClientSecret == "",
	})
	if err != nil {
		metrics.UpdateComponent("identity_provider", false, err.Error())
		return nil, err
	}

	if result.ClientSecret != "" && result.ClientSecret != cfg.IdentityProvider.ClientSecret {
		if err := o.store.SetClientSecret(result.ClientSecret); err != nil {
			return nil, err
		}
		o.syncConfigs(o.store.Current())
	}

	o.broker.Publish(&types.Event{
		Type:        types.EventIDPBootstrapped,
		ServiceName: types.IdentityServiceName,
		Message:     fmt.Sprintf("Identity provider bootstrapped for realm %s", cfg.IdentityProvider.Realm),
	})
	metrics.UpdateComponent("identity_provider", true, "")
	return result, nil
}

// reconcileIdentity runs the boot-time IDP convergence. A missing
// client secret means the realm was never bootstrapped; a hostname
// move means the frontend URL and redirect URIs are stale. Neither
// failure aborts boot: the IDP may simply not be running yet, and the
// explicit bootstrap endpoint recovers later.
func (o *Orchestrator) reconcileIdentity(ctx context.Context, cfg *types.MasterConfig) {
	if o.idp == nil {
		return
	}
	if _, err := o.registry.Get(types.IdentityServiceName); err != nil {
		o.logger.Debug().Msg("Identity service not in catalog; skipping IDP reconciliation")
		return
	}

	secret := cfg.IdentityProvider.ClientSecret
	needBootstrap := secret == ""
	needFrontend := o.hostnameMoved && secret != ""
	if !needBootstrap && !needFrontend {
		metrics.RegisterComponent("identity_provider", true, "")
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, idpReadyTimeout)
	defer cancel()
	if err := o.idp.WaitReady(waitCtx); err != nil {
		o.logger.Warn().Err(err).Msg("Identity provider not reachable; deferring reconciliation")
		metrics.RegisterComponent("identity_provider", false, "unreachable at boot")
		return
	}

	if needBootstrap {
		if _, err := o.BootstrapIDP(ctx); err != nil {
			o.logger.Error().Err(err).Msg("IDP bootstrap failed; retry via the bootstrap endpoint")
		}
		return
	}

	if err := o.idp.UpdateFrontend(ctx, cfg.IdentityProvider.ClientID, cfg.System.Hostname); err != nil {
		o.logger.Error().Err(err).Msg("IDP frontend update after hostname change failed")
		metrics.RegisterComponent("identity_provider", false, "frontend update failed")
		return
	}
	o.logger.Info().Str("hostname", cfg.System.Hostname).Msg("IDP frontend updated for new hostname")
	metrics.RegisterComponent("identity_provider", true, "")
}
