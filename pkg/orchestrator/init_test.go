package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivematrix/helm/pkg/paths"
)

func TestInitPreparesPlatformRoot(t *testing.T) {
	root := scaffoldPlatform(t)
	rt := testRuntime(root)

	report, err := Init(context.Background(), rt, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, root, report.Root)
	assert.False(t, report.ConfigCreated, "config was seeded by the scaffold")
	assert.True(t, report.CatalogReady)
	assert.True(t, report.KeypairCreated)
	assert.False(t, report.IDPBootstrapped, "no identity provider configured")
	assert.Empty(t, report.SyncFailures)
	assert.ElementsMatch(t, []string{"core", "helm", "nexus"}, report.ServicesSynced)
	assert.Empty(t, report.Databases, "default config declares no apps")

	layout, err := paths.NewLayout(root)
	require.NoError(t, err)
	assert.FileExists(t, layout.MasterConfigPath())
	assert.FileExists(t, layout.ManifestPath())
	assert.FileExists(t, layout.ThinRegistryPath())
	assert.FileExists(t, layout.ServiceEnvFile("core"))
	assert.FileExists(t, filepath.Join(layout.ServiceDir("core"), "keys", "jwt_private.pem"))
	assert.FileExists(t, filepath.Join(layout.ServiceDir("core"), "keys", "jwt_public.pem"))
}

func TestInitIsIdempotent(t *testing.T) {
	root := scaffoldPlatform(t)
	rt := testRuntime(root)

	first, err := Init(context.Background(), rt, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, first.KeypairCreated)

	second, err := Init(context.Background(), rt, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, second.ConfigCreated)
	assert.False(t, second.KeypairCreated, "existing keys must never be rotated")
	assert.True(t, second.CatalogReady)
	assert.ElementsMatch(t, first.ServicesSynced, second.ServicesSynced)
}

func TestInitWithoutCheckouts(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "hivematrix-helm")
	require.NoError(t, os.MkdirAll(root, 0o755))
	rt := testRuntime(root)

	report, err := Init(context.Background(), rt, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, report.ConfigCreated)
	assert.False(t, report.CatalogReady)
	assert.Empty(t, report.ServicesSynced)
	assert.False(t, report.KeypairCreated)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "catalog")

	// The pieces that need no checkouts still exist.
	layout, err := paths.NewLayout(root)
	require.NoError(t, err)
	assert.FileExists(t, layout.MasterConfigPath())
}

func TestSyncRegeneratesConfigs(t *testing.T) {
	root := scaffoldPlatform(t)
	rt := testRuntime(root)

	_, err := Init(context.Background(), rt, zerolog.Nop())
	require.NoError(t, err)

	layout, err := paths.NewLayout(root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(layout.ServiceEnvFile("nexus")))

	report, err := Sync(rt, zerolog.Nop())
	require.NoError(t, err)
	assert.Contains(t, report.Synced, "nexus")
	assert.FileExists(t, layout.ServiceEnvFile("nexus"))
}
