package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

// ThinEntry is the peer-discovery view of one service: just enough for
// another service to call it.
type ThinEntry struct {
	URL  string `json:"url"`
	Port int    `json:"port"`
}

func thinProjection(catalog map[string]*types.ServiceEntry) map[string]ThinEntry {
	thin := make(map[string]ThinEntry, len(catalog))
	for name, entry := range catalog {
		thin[name] = ThinEntry{URL: entry.URL(), Port: entry.Port}
	}
	return thin
}

// writeProjections persists both catalog views. Writes are atomic and
// deterministic so consumers never observe a torn file and re-running
// with the same catalog is a no-op byte-wise.
func writeProjections(layout *paths.Layout, catalog map[string]*types.ServiceEntry) error {
	if err := writeJSONProjection(layout.ThinRegistryPath(), thinProjection(catalog)); err != nil {
		return err
	}
	return writeJSONProjection(layout.ThickRegistryPath(), catalog)
}

func writeJSONProjection(path string, view interface{}) error {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := paths.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadThinRegistry loads the thin projection from disk. Services use
// this when they need peer URLs without talking to the control API.
func ReadThinRegistry(path string) (map[string]ThinEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading projection: %w", err)
	}
	var thin map[string]ThinEntry
	if err := json.Unmarshal(data, &thin); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return thin, nil
}
