package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLayoutPaths tests path resolution relative to the workspace root
func TestLayoutPaths(t *testing.T) {
	root := t.TempDir()
	layout, err := NewLayout(root)
	require.NoError(t, err)

	assert.Equal(t, root, layout.Root())
	assert.Equal(t, filepath.Dir(root), layout.ParentDir())
	assert.Equal(t, filepath.Join(root, "instance", "configs", "master_config.json"), layout.MasterConfigPath())
	assert.Equal(t, filepath.Join(root, "pids", "core.pid"), layout.PIDFile("core"))
	assert.Equal(t, filepath.Join(root, "logs", "core.stdout.log"), layout.StdoutLog("core"))
	assert.Equal(t, filepath.Join(root, "logs", "core.stderr.log"), layout.StderrLog("core"))
	assert.Equal(t, filepath.Join(root, "thin-registry.json"), layout.ThinRegistryPath())
}

// TestLayoutServiceDirs tests sibling service directory resolution
func TestLayoutServiceDirs(t *testing.T) {
	root := t.TempDir()
	layout, err := NewLayout(root)
	require.NoError(t, err)

	parent := filepath.Dir(root)
	assert.Equal(t, filepath.Join(parent, "hivematrix-core"), layout.ServiceDir("core"))
	assert.Equal(t, filepath.Join(parent, "hivematrix-core", ".env"), layout.ServiceEnvFile("core"))
	assert.Equal(t, filepath.Join(parent, "hivematrix-core", "instance", "core.conf"), layout.ServiceConfFile("core"))

	// The orchestrator itself resolves to the workspace root, not a sibling.
	assert.Equal(t, root, layout.ServiceDir("helm"))
}

// TestEnsureAll tests skeleton creation and idempotence
func TestEnsureAll(t *testing.T) {
	root := t.TempDir()
	layout, err := NewLayout(root)
	require.NoError(t, err)

	require.NoError(t, layout.EnsureAll())
	require.NoError(t, layout.EnsureAll())

	for _, dir := range []string{layout.ConfigDir(), layout.PIDDir(), layout.LogDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

// TestWriteFileAtomic tests content replacement and tmp cleanup
func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(target, []byte(`{"v":1}`), 0o600))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	require.NoError(t, WriteFileAtomic(target, []byte(`{"v":2}`), 0o600))
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	_, err = os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should not linger")
}
