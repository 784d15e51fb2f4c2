package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ServiceDirPrefix is the directory naming convention for platform
	// services. The registry scans the parent directory for it.
	ServiceDirPrefix = "hivematrix-"

	// OrchestratorName is our own slug in the catalog.
	OrchestratorName = "helm"
)

// Layout resolves every well-known path in the orchestrator workspace.
// The workspace root is the orchestrator's own directory; managed
// services live in sibling directories under the same parent.
type Layout struct {
	root   string
	parent string
}

// NewLayout creates a layout rooted at the given directory. Empty root
// means the current working directory.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	return &Layout{
		root:   abs,
		parent: filepath.Dir(abs),
	}, nil
}

// EnsureAll creates the writable directory skeleton. Idempotent.
func (l *Layout) EnsureAll() error {
	dirs := []string{
		l.ConfigDir(),
		l.PIDDir(),
		l.LogDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the workspace root.
func (l *Layout) Root() string { return l.root }

// ParentDir returns the directory scanned for sibling services.
func (l *Layout) ParentDir() string { return l.parent }

// InstanceDir holds the orchestrator's private state.
func (l *Layout) InstanceDir() string { return filepath.Join(l.root, "instance") }

// ConfigDir holds the master configuration document.
func (l *Layout) ConfigDir() string { return filepath.Join(l.InstanceDir(), "configs") }

// MasterConfigPath is the single source-of-truth JSON document.
func (l *Layout) MasterConfigPath() string {
	return filepath.Join(l.ConfigDir(), "master_config.json")
}

// RuntimeConfigPath is the orchestrator's own optional YAML knobs file.
func (l *Layout) RuntimeConfigPath() string { return filepath.Join(l.root, "helm.yaml") }

// LogStorePath is the SQLite database backing the centralized log
// store.
func (l *Layout) LogStorePath() string { return filepath.Join(l.InstanceDir(), "helm_logs.db") }

// MetricStorePath is the bbolt database holding metric history.
func (l *Layout) MetricStorePath() string {
	return filepath.Join(l.InstanceDir(), "helm_metrics.db")
}

// ManifestPath is the static service manifest.
func (l *Layout) ManifestPath() string {
	return filepath.Join(l.root, "services-manifest.json")
}

// ThinRegistryPath is the peer-discovery projection of the catalog.
func (l *Layout) ThinRegistryPath() string {
	return filepath.Join(l.root, "thin-registry.json")
}

// ThickRegistryPath is the supervisor-facing projection of the catalog.
func (l *Layout) ThickRegistryPath() string {
	return filepath.Join(l.root, "thick-registry.json")
}

// PIDDir holds one pidfile per managed service.
func (l *Layout) PIDDir() string { return filepath.Join(l.root, "pids") }

// PIDFile returns the pidfile path for a service.
func (l *Layout) PIDFile(name string) string {
	return filepath.Join(l.PIDDir(), name+".pid")
}

// LogDir holds captured stdout/stderr for managed services.
func (l *Layout) LogDir() string { return filepath.Join(l.root, "logs") }

// StdoutLog returns the stdout capture path for a service.
func (l *Layout) StdoutLog(name string) string {
	return filepath.Join(l.LogDir(), name+".stdout.log")
}

// StderrLog returns the stderr capture path for a service.
func (l *Layout) StderrLog(name string) string {
	return filepath.Join(l.LogDir(), name+".stderr.log")
}

// ServiceDir returns the expected directory of a sibling service.
func (l *Layout) ServiceDir(name string) string {
	if name == OrchestratorName {
		return l.root
	}
	return filepath.Join(l.parent, ServiceDirPrefix+name)
}

// ServiceInstanceDir is where a service's conf file is written.
func (l *Layout) ServiceInstanceDir(name string) string {
	return filepath.Join(l.ServiceDir(name), "instance")
}

// ServiceEnvFile is the synthesized .env path for a service.
func (l *Layout) ServiceEnvFile(name string) string {
	return filepath.Join(l.ServiceDir(name), ".env")
}

// ServiceConfFile is the synthesized INI conf path for a service.
func (l *Layout) ServiceConfFile(name string) string {
	return filepath.Join(l.ServiceInstanceDir(name), name+".conf")
}
