package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hivematrix/helm/test/framework"

	"github.com/hivematrix/helm/pkg/types"
)

// bootPlatform scaffolds and boots one installation, failing the test
// on any setup error.
func bootPlatform(t *testing.T, config *framework.PlatformConfig) *framework.Platform {
	t.Helper()

	platform, err := framework.NewPlatform(config)
	if err != nil {
		t.Fatalf("Failed to scaffold platform: %v", err)
	}
	t.Cleanup(func() {
		if err := platform.Cleanup(); err != nil {
			t.Logf("Warning: cleanup: %v", err)
		}
	})

	if err := platform.Start(); err != nil {
		t.Fatalf("Failed to boot platform: %v", err)
	}
	return platform
}

// TestPlatformBoot covers the read-only surface of a freshly booted
// installation: health document, catalog, initial statuses and the
// dashboard aggregate.
func TestPlatformBoot(t *testing.T) {
	platform := bootPlatform(t, nil)
	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	t.Run("HealthDocument", func(t *testing.T) {
		doc, err := platform.Client.Health()
		if err != nil {
			t.Fatalf("Failed to fetch health: %v", err)
		}
		if doc.Status != "healthy" {
			t.Errorf("Expected healthy orchestrator, got %s", doc.Status)
		}
		assert.HealthyComponent(platform.Client, "log_store")
		assert.HealthyComponent(platform.Client, "metric_store")
	})

	t.Run("Catalog", func(t *testing.T) {
		assert.CatalogContains(platform.Client, "core", "helm", "nexus")

		list, err := platform.Client.ListServices()
		if err != nil {
			t.Fatalf("Failed to list services: %v", err)
		}
		if len(list.Services) == 0 || list.Services[0] != "core" {
			t.Errorf("Expected core first in install order, got %v", list.Services)
		}
		core := list.Details["core"]
		if core.Port != 5000 {
			t.Errorf("Expected core on port 5000, got %d", core.Port)
		}
	})

	t.Run("InitialStatuses", func(t *testing.T) {
		if err := waiter.WaitForStatus(ctx, platform.Client, "core", types.ProcessStopped); err != nil {
			t.Fatalf("core never reported stopped: %v", err)
		}

		statuses, err := platform.Client.Statuses()
		if err != nil {
			t.Fatalf("Failed to fetch statuses: %v", err)
		}
		for _, name := range []string{"core", "helm", "nexus"} {
			if _, ok := statuses[name]; !ok {
				t.Errorf("Status map is missing %s", name)
			}
		}
	})

	t.Run("UnknownService", func(t *testing.T) {
		_, err := platform.Client.Status("ghost")
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Expected not_found for unknown service, got %v", err)
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		dash, err := platform.Client.DashboardStatus()
		if err != nil {
			t.Fatalf("Failed to fetch dashboard: %v", err)
		}
		if len(dash.Statuses) < 3 {
			t.Errorf("Expected at least 3 statuses on the dashboard, got %d", len(dash.Statuses))
		}
	})
}

// TestAuthorizationBoundary drives the token matrix over the real
// HTTP stack: missing, garbage, read-only, service and revoked tokens.
func TestAuthorizationBoundary(t *testing.T) {
	platform := bootPlatform(t, nil)

	t.Run("MissingToken", func(t *testing.T) {
		anon := platform.ClientWithToken("")
		defer anon.Close()

		_, err := anon.ListServices()
		if !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("Expected unauthorized without a token, got %v", err)
		}
	})

	t.Run("GarbageToken", func(t *testing.T) {
		garbage := platform.ClientWithToken("not-a-jwt")
		defer garbage.Close()

		_, err := garbage.ListServices()
		if !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("Expected unauthorized for a garbage token, got %v", err)
		}
	})

	t.Run("TechnicianReadsButCannotStart", func(t *testing.T) {
		token, err := platform.Identity.MintUserToken("tech", "technician")
		if err != nil {
			t.Fatalf("Failed to mint token: %v", err)
		}
		tech := platform.ClientWithToken(token)
		defer tech.Close()

		if _, err := tech.ListServices(); err != nil {
			t.Errorf("Technician should read the catalog: %v", err)
		}
		if _, err := tech.Statuses(); err != nil {
			t.Errorf("Technician should read statuses: %v", err)
		}
		_, err = tech.Start("core", types.RunModeDevelopment)
		if !errors.Is(err, types.ErrForbidden) {
			t.Errorf("Expected forbidden for technician start, got %v", err)
		}
		_, err = tech.GetConfig()
		if !errors.Is(err, types.ErrForbidden) {
			t.Errorf("Expected forbidden for technician config read, got %v", err)
		}
	})

	t.Run("ServiceTokenActsAsAdmin", func(t *testing.T) {
		token, err := platform.Identity.MintServiceToken("codex")
		if err != nil {
			t.Fatalf("Failed to mint service token: %v", err)
		}
		svc := platform.ClientWithToken(token)
		defer svc.Close()

		if _, err := svc.GetConfig(); err != nil {
			t.Errorf("Service token should pass the admin gate: %v", err)
		}
	})

	t.Run("RevokedSession", func(t *testing.T) {
		platform.Identity.RevokeSessions(true)
		defer platform.Identity.RevokeSessions(false)

		// A fresh token misses the session cache, so the revocation
		// is seen immediately.
		token, err := platform.Identity.MintUserToken("goner", "admin")
		if err != nil {
			t.Fatalf("Failed to mint token: %v", err)
		}
		revoked := platform.ClientWithToken(token)
		defer revoked.Close()

		_, err = revoked.ListServices()
		if !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("Expected unauthorized for a revoked session, got %v", err)
		}
	})
}

// TestConfigRoundTrip exercises the master-config surface: redaction
// on read, deep-merge on update, resynthesis on disk and rejection of
// unknown sections.
func TestConfigRoundTrip(t *testing.T) {
	platform := bootPlatform(t, nil)

	t.Run("SecretsAreRedacted", func(t *testing.T) {
		cfg, err := platform.Client.GetConfig()
		if err != nil {
			t.Fatalf("Failed to fetch config: %v", err)
		}
		if cfg.System.Hostname == "" {
			t.Error("Expected a detected hostname")
		}
		if cfg.Databases.Relational.AdminPassword != "" && cfg.Databases.Relational.AdminPassword != "[redacted]" {
			t.Errorf("Database admin password leaked: %q", cfg.Databases.Relational.AdminPassword)
		}
	})

	t.Run("UpdatePersistsAndResyncs", func(t *testing.T) {
		envFile := filepath.Join(platform.ServiceDir("core"), ".env")
		if err := os.Remove(envFile); err != nil {
			t.Fatalf("Failed to remove synthesized env: %v", err)
		}

		updated, err := platform.Client.UpdateConfig(map[string]any{
			"system": map[string]any{"environment": "production"},
		})
		if err != nil {
			t.Fatalf("Failed to update config: %v", err)
		}
		if updated.System.Environment != "production" {
			t.Errorf("Expected environment production, got %q", updated.System.Environment)
		}

		if _, err := os.Stat(envFile); err != nil {
			t.Errorf("Update should resynthesize %s: %v", envFile, err)
		}

		cfg, err := platform.Client.GetConfig()
		if err != nil {
			t.Fatalf("Failed to re-fetch config: %v", err)
		}
		if cfg.System.Environment != "production" {
			t.Errorf("Update did not persist, got %q", cfg.System.Environment)
		}
	})

	t.Run("UnknownSectionRejected", func(t *testing.T) {
		_, err := platform.Client.UpdateConfig(map[string]any{"turbo": true})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected invalid_input for unknown section, got %v", err)
		}
	})
}
