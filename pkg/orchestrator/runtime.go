package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/metricstore"
	"github.com/hivematrix/helm/pkg/monitor"
)

// Duration wraps time.Duration so YAML can carry human-readable values
// like "5s" or "1m30s" instead of raw nanosecond counts.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Runtime holds the orchestrator's own operational knobs. Platform
// state lives in the master config; this file only decides how the
// orchestrator process itself behaves. It is read from helm.yaml at
// the platform root and every field is optional.
type Runtime struct {
	// Root is the platform root directory. Empty means the working
	// directory.
	Root string `yaml:"root"`

	// ListenAddr is the control API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// CoreServiceURL is the base URL of the identity service used for
	// token verification (JWKS and session validation).
	CoreServiceURL string `yaml:"core_service_url"`

	// ProbeInterval is the health monitor sweep period.
	ProbeInterval Duration `yaml:"probe_interval"`

	// LogRetentionDays and MetricRetentionDays bound the history kept
	// in the two stores.
	LogRetentionDays    int `yaml:"log_retention_days"`
	MetricRetentionDays int `yaml:"metric_retention_days"`

	// DevMode launches managed services with their development
	// entrypoints by default.
	DevMode bool `yaml:"dev_mode"`

	// LogLevel sets the orchestrator's own console/JSON log level.
	LogLevel string `yaml:"log_level"`
}

// DefaultRuntime returns the knobs a bare install runs with.
func DefaultRuntime() *Runtime {
	return &Runtime{
		ListenAddr:          ":5004",
		CoreServiceURL:      "http://localhost:5000",
		ProbeInterval:       Duration(monitor.DefaultInterval),
		LogRetentionDays:    logstore.DefaultRetentionDays,
		MetricRetentionDays: metricstore.DefaultRetentionDays,
		LogLevel:            "info",
	}
}

// LoadRuntime reads helm.yaml from path, layering the file over the
// defaults. A missing file is not an error; unknown keys are, so typos
// in operator edits surface immediately.
func LoadRuntime(path string) (*Runtime, error) {
	rt := DefaultRuntime()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading runtime config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rt); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rt, nil
}

// ApplyEnv layers process environment overrides on top of the file
// values. Only variables that are actually set take effect.
func (rt *Runtime) ApplyEnv() {
	if v, ok := os.LookupEnv("DEV_MODE"); ok {
		rt.DevMode = v == "1" || v == "true" || v == "yes"
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		rt.LogLevel = v
	}
	if v, ok := os.LookupEnv("CORE_SERVICE_URL"); ok && v != "" {
		rt.CoreServiceURL = v
	}
}
