package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

// ManifestEntry describes one known service in the static manifest.
type ManifestEntry struct {
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description,omitempty"`
	GitURL        string   `json:"git_url,omitempty"`
	Port          int      `json:"port"`
	Dependencies  []string `json:"dependencies,omitempty"`
	InstallOrder  int      `json:"install_order"`
	ProcessKind   string   `json:"process_kind,omitempty"`
	RunEntrypoint string   `json:"run_entrypoint,omitempty"`
	Visible       bool     `json:"visible"`
	AdminOnly     bool     `json:"admin_only,omitempty"`
}

// SystemDependency is a non-service prerequisite tracked for operator
// visibility (identity provider, databases).
type SystemDependency struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// Manifest is the static catalog source: required platform services,
// optional first-party apps, and system prerequisites.
type Manifest struct {
	CoreRequired       map[string]ManifestEntry    `json:"core_required"`
	DefaultOptional    map[string]ManifestEntry    `json:"default_optional"`
	SystemDependencies map[string]SystemDependency `json:"system_dependencies"`
}

// DefaultManifest returns the built-in catalog of first-party modules.
func DefaultManifest() *Manifest {
	return &Manifest{
		CoreRequired: map[string]ManifestEntry{
			"core": {
				DisplayName:   "Core",
				Description:   "Authentication & JWT token management",
				GitURL:        "https://github.com/hivematrix/hivematrix-core.git",
				Port:          5000,
				InstallOrder:  1,
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
			},
			"helm": {
				DisplayName:   "Helm",
				Description:   "Service manager & orchestration",
				GitURL:        "https://github.com/hivematrix/hivematrix-helm.git",
				Port:          5004,
				InstallOrder:  2,
				Dependencies:  []string{"core"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
			},
			"nexus": {
				DisplayName:   "Nexus",
				Description:   "Gateway & reverse proxy",
				GitURL:        "https://github.com/hivematrix/hivematrix-nexus.git",
				Port:          443,
				InstallOrder:  3,
				Dependencies:  []string{"core"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
			},
		},
		DefaultOptional: map[string]ManifestEntry{
			"codex": {
				DisplayName:   "Codex",
				Description:   "Client, ticket, and contact management",
				GitURL:        "https://github.com/hivematrix/hivematrix-codex.git",
				Port:          5010,
				InstallOrder:  10,
				Dependencies:  []string{"core", "postgresql"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
				Visible:       true,
			},
			"knowledgetree": {
				DisplayName:   "KnowledgeTree",
				Description:   "Documentation and knowledge base",
				GitURL:        "https://github.com/hivematrix/hivematrix-knowledgetree.git",
				Port:          5020,
				InstallOrder:  11,
				Dependencies:  []string{"core", "codex", "postgresql"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
				Visible:       true,
			},
			"ledger": {
				DisplayName:   "Ledger",
				Description:   "Financial accounting and invoicing",
				GitURL:        "https://github.com/hivematrix/hivematrix-ledger.git",
				Port:          5030,
				InstallOrder:  12,
				Dependencies:  []string{"core", "codex", "postgresql"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
				Visible:       true,
			},
			"template": {
				DisplayName:   "Template",
				Description:   "Skeleton for new modules",
				GitURL:        "https://github.com/hivematrix/hivematrix-template.git",
				Port:          5040,
				InstallOrder:  50,
				Dependencies:  []string{"core"},
				ProcessKind:   string(types.ProcessKindManagedPython),
				RunEntrypoint: "run.py",
			},
		},
		SystemDependencies: map[string]SystemDependency{
			"keycloak": {
				DisplayName: "Keycloak",
				Description: "OIDC identity provider",
			},
			"postgresql": {
				DisplayName: "PostgreSQL",
				Description: "Relational database server",
			},
			"neo4j": {
				DisplayName: "Neo4j",
				Description: "Graph database",
				Optional:    true,
			},
		},
	}
}

// LoadManifest reads the manifest file, creating it from the built-in
// defaults when absent. Malformed manifests are errors; the catalog is
// too important to guess at.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		manifest := DefaultManifest()
		if err := writeManifest(path, manifest); err != nil {
			return nil, err
		}
		return manifest, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if manifest.CoreRequired == nil {
		manifest.CoreRequired = map[string]ManifestEntry{}
	}
	if manifest.DefaultOptional == nil {
		manifest.DefaultOptional = map[string]ManifestEntry{}
	}
	return &manifest, nil
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')
	if err := paths.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// entry converts a manifest record into a catalog entry.
func (m ManifestEntry) entry(name string, source types.ServiceSource, dir string) *types.ServiceEntry {
	kind := types.ProcessKind(m.ProcessKind)
	if kind == "" {
		kind = types.ProcessKindManagedPython
	}
	entrypoint := m.RunEntrypoint
	if entrypoint == "" {
		entrypoint = "run.py"
	}
	return &types.ServiceEntry{
		Name:          name,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		Source:        source,
		Port:          m.Port,
		Dependencies:  append([]string(nil), m.Dependencies...),
		InstallOrder:  m.InstallOrder,
		GitURL:        m.GitURL,
		DirectoryPath: dir,
		ProcessKind:   kind,
		RunEntrypoint: entrypoint,
		Visible:       m.Visible,
		AdminOnly:     m.AdminOnly,
	}
}
