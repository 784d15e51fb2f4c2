package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

// discovered is one service directory found by scanning the parent of
// the orchestrator checkout.
type discovered struct {
	name string
	dir  string
	kind types.ProcessKind
}

// scanSiblings looks for hivematrix-* directories next to the
// orchestrator and reports the service name each one implies. The scan
// is best-effort: unreadable directories are skipped, never fatal.
func scanSiblings(layout *paths.Layout, logger zerolog.Logger) []discovered {
	entries, err := os.ReadDir(layout.ParentDir())
	if err != nil {
		logger.Warn().Err(err).Str("dir", layout.ParentDir()).Msg("Scan failed to read parent directory")
		return nil
	}

	var found []discovered
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if !strings.HasPrefix(ent.Name(), paths.ServiceDirPrefix) {
			continue
		}
		name := strings.TrimPrefix(ent.Name(), paths.ServiceDirPrefix)
		if name == paths.OrchestratorName {
			continue
		}
		if !types.ValidServiceName(name) {
			logger.Warn().Str("dir", ent.Name()).Msg("Skipping directory with invalid service name")
			continue
		}
		dir := filepath.Join(layout.ParentDir(), ent.Name())
		kind, ok := classifyServiceDir(dir)
		if !ok {
			logger.Debug().Str("dir", ent.Name()).Msg("Skipping directory with no recognizable entrypoint")
			continue
		}
		found = append(found, discovered{name: name, dir: dir, kind: kind})
	}
	return found
}

// classifyServiceDir inspects a service checkout and decides how its
// process would be launched. Python services carry run.py at the root;
// external services ship a start script instead.
func classifyServiceDir(dir string) (types.ProcessKind, bool) {
	if fileExists(filepath.Join(dir, "run.py")) {
		return types.ProcessKindManagedPython, true
	}
	for _, script := range []string{"start.sh", "bin/start.sh"} {
		if fileExists(filepath.Join(dir, script)) {
			return types.ProcessKindExternalJava, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
