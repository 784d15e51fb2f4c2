package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultRuntime(t *testing.T) {
	rt := DefaultRuntime()
	assert.Equal(t, ":5004", rt.ListenAddr)
	assert.Equal(t, "http://localhost:5000", rt.CoreServiceURL)
	assert.Equal(t, 5*time.Second, time.Duration(rt.ProbeInterval))
	assert.Equal(t, 90, rt.LogRetentionDays)
	assert.Equal(t, 7, rt.MetricRetentionDays)
	assert.False(t, rt.DevMode)
}

func TestLoadRuntimeMissingFileUsesDefaults(t *testing.T) {
	rt, err := LoadRuntime(filepath.Join(t.TempDir(), "helm.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntime(), rt)
}

func TestLoadRuntimeParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.yaml")
	doc := `
root: /srv/hivematrix-helm
listen_addr: "127.0.0.1:6004"
core_service_url: http://core.internal:5000
probe_interval: 10s
log_retention_days: 30
metric_retention_days: 3
dev_mode: true
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rt, err := LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/hivematrix-helm", rt.Root)
	assert.Equal(t, "127.0.0.1:6004", rt.ListenAddr)
	assert.Equal(t, "http://core.internal:5000", rt.CoreServiceURL)
	assert.Equal(t, 10*time.Second, time.Duration(rt.ProbeInterval))
	assert.Equal(t, 30, rt.LogRetentionDays)
	assert.Equal(t, 3, rt.MetricRetentionDays)
	assert.True(t, rt.DevMode)
	assert.Equal(t, "debug", rt.LogLevel)
}

func TestLoadRuntimePartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\n"), 0o644))

	rt, err := LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", rt.ListenAddr)
	assert.Equal(t, "http://localhost:5000", rt.CoreServiceURL)
	assert.Equal(t, 90, rt.LogRetentionDays)
}

func TestLoadRuntimeEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	rt, err := LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntime(), rt)
}

func TestLoadRuntimeRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne_addr: \":9999\"\n"), 0o644))

	_, err := LoadRuntime(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listne_addr")
}

func TestLoadRuntimeRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probe_interval: soon\n"), 0o644))

	_, err := LoadRuntime(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(map[string]Duration{"probe_interval": Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1m30s")

	var decoded struct {
		ProbeInterval Duration `yaml:"probe_interval"`
	}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, 90*time.Second, time.Duration(decoded.ProbeInterval))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CORE_SERVICE_URL", "http://identity:5000")

	rt := DefaultRuntime()
	rt.ApplyEnv()
	assert.True(t, rt.DevMode)
	assert.Equal(t, "warn", rt.LogLevel)
	assert.Equal(t, "http://identity:5000", rt.CoreServiceURL)
}

func TestApplyEnvIgnoresUnsetAndEmpty(t *testing.T) {
	t.Setenv("DEV_MODE", "0")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CORE_SERVICE_URL", "")

	rt := DefaultRuntime()
	rt.DevMode = true
	rt.ApplyEnv()

	// DEV_MODE=0 is an explicit override; empty strings are not.
	assert.False(t, rt.DevMode)
	assert.Equal(t, "info", rt.LogLevel)
	assert.Equal(t, "http://localhost:5000", rt.CoreServiceURL)
}
