package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

// Registry is the authoritative service catalog. It merges the static
// manifest with a filesystem scan of sibling directories and publishes
// the result as two projection files for external consumers.
type Registry struct {
	layout *paths.Layout
	logger zerolog.Logger

	mu      sync.RWMutex
	catalog map[string]*types.ServiceEntry
	sysDeps map[string]SystemDependency
}

// NewRegistry creates a registry over the given workspace layout. The
// catalog is empty until the first Reconcile.
func NewRegistry(layout *paths.Layout) *Registry {
	return &Registry{
		layout:  layout,
		logger:  log.WithComponent("registry"),
		catalog: make(map[string]*types.ServiceEntry),
		sysDeps: make(map[string]SystemDependency),
	}
}

// Reconcile rebuilds the catalog from the manifest and a fresh
// filesystem scan, then rewrites both projection files. A missing
// core-required service is an installation error and leaves the
// previous catalog untouched.
func (r *Registry) Reconcile() error {
	manifest, err := LoadManifest(r.layout.ManifestPath())
	if err != nil {
		return err
	}

	// The orchestrator itself is always present; everything else must
	// exist on disk to enter the catalog.
	present := map[string]discovered{
		paths.OrchestratorName: {
			name: paths.OrchestratorName,
			dir:  r.layout.Root(),
			kind: types.ProcessKindManagedPython,
		},
	}
	for _, d := range scanSiblings(r.layout, r.logger) {
		present[d.name] = d
	}

	catalog, err := buildCatalog(manifest, present)
	if err != nil {
		return err
	}

	if missing := missingCore(manifest, catalog); len(missing) > 0 {
		return fmt.Errorf("core services missing from disk: %s", strings.Join(missing, ", "))
	}

	if err := writeProjections(r.layout, catalog); err != nil {
		return err
	}

	r.mu.Lock()
	r.catalog = catalog
	r.sysDeps = manifest.SystemDependencies
	r.mu.Unlock()

	r.logger.Info().
		Int("services", len(catalog)).
		Msg("Service catalog reconciled")
	return nil
}

// buildCatalog merges manifest entries with discovered directories.
// Manifest data wins verbatim for known names; unknown names get a
// synthesized entry with a derived port. Bucket precedence when a name
// appears more than once is core over optional over discovered.
func buildCatalog(manifest *Manifest, present map[string]discovered) (map[string]*types.ServiceEntry, error) {
	catalog := make(map[string]*types.ServiceEntry, len(present))
	taken := make(map[int]string, len(present))

	// Deterministic iteration keeps port-conflict errors and derived
	// port fallbacks stable across runs.
	names := make([]string, 0, len(present))
	for name := range present {
		names = append(names, name)
	}
	sort.Strings(names)

	// Manifest-backed services claim their assigned ports first.
	for _, name := range names {
		d := present[name]
		var entry *types.ServiceEntry
		if m, ok := manifest.CoreRequired[name]; ok {
			entry = m.entry(name, types.SourceCoreRequired, d.dir)
		} else if m, ok := manifest.DefaultOptional[name]; ok {
			entry = m.entry(name, types.SourceDefaultOptional, d.dir)
		} else {
			continue
		}
		if owner, clash := taken[entry.Port]; clash {
			return nil, fmt.Errorf("manifest assigns port %d to both %s and %s: %w",
				entry.Port, owner, name, types.ErrPortInUse)
		}
		taken[entry.Port] = name
		catalog[name] = entry
	}

	// Discovered services derive their ports, walking past collisions.
	for _, name := range names {
		if _, ok := catalog[name]; ok {
			continue
		}
		d := present[name]
		port := nextFreeDerived(name, taken)
		if port == 0 {
			return nil, fmt.Errorf("no free port for discovered service %s: %w", name, types.ErrPortInUse)
		}
		taken[port] = name
		entrypoint := "run.py"
		if d.kind == types.ProcessKindExternalJava {
			entrypoint = "start.sh"
		}
		catalog[name] = &types.ServiceEntry{
			Name:          name,
			DisplayName:   displayTitle(name),
			Source:        types.SourceDiscovered,
			Port:          port,
			InstallOrder:  99,
			DirectoryPath: d.dir,
			ProcessKind:   d.kind,
			RunEntrypoint: entrypoint,
			Visible:       true,
		}
	}

	return catalog, nil
}

// displayTitle upper-cases the first letter of a discovered name for
// its default display name.
func displayTitle(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// missingCore lists core-required manifest entries absent from the
// built catalog, sorted for stable error messages.
func missingCore(manifest *Manifest, catalog map[string]*types.ServiceEntry) []string {
	var missing []string
	for name := range manifest.CoreRequired {
		if _, ok := catalog[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Get returns a copy of the catalog entry for a service.
func (r *Registry) Get(name string) (types.ServiceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.catalog[name]
	if !ok {
		return types.ServiceEntry{}, fmt.Errorf("service %s: %w", name, types.ErrNotFound)
	}
	return *entry, nil
}

// List returns all catalog entries ordered by install order, then name.
func (r *Registry) List() []types.ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ServiceEntry, 0, len(r.catalog))
	for _, entry := range r.catalog {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstallOrder != out[j].InstallOrder {
			return out[i].InstallOrder < out[j].InstallOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns the catalog's service names in List order.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// SystemDependencies returns the non-service prerequisites from the
// manifest.
func (r *Registry) SystemDependencies() map[string]SystemDependency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SystemDependency, len(r.sysDeps))
	for k, v := range r.sysDeps {
		out[k] = v
	}
	return out
}

// Thin returns the peer-discovery view of the catalog.
func (r *Registry) Thin() map[string]ThinEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return thinProjection(r.catalog)
}
