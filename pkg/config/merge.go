package config

// deepMerge merges src into dst recursively. Object values merge
// key-by-key; everything else (including arrays) is replaced whole.
// dst is modified and returned.
func deepMerge(dst, src map[string]any) map[string]any {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// migrateLegacy renames sections from the first-generation document
// shape to the current one. Documents already in the current shape
// pass through untouched. This is the single supported migration path;
// anything older is operator-repair territory.
func migrateLegacy(raw map[string]any) map[string]any {
	if kc, ok := raw["keycloak"]; ok {
		if _, exists := raw["identity_provider"]; !exists {
			raw["identity_provider"] = kc
		}
		delete(raw, "keycloak")
	}

	if dbs, ok := raw["databases"].(map[string]any); ok {
		if pg, ok := dbs["postgresql"]; ok {
			if _, exists := dbs["relational"]; !exists {
				dbs["relational"] = pg
			}
			delete(dbs, "postgresql")
		}
		if neo, ok := dbs["neo4j"]; ok {
			if _, exists := dbs["graph"]; !exists {
				dbs["graph"] = neo
			}
			delete(dbs, "neo4j")
		}
	}

	if apps, ok := raw["apps"].(map[string]any); ok {
		for name, entry := range apps {
			app, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if kind, ok := app["database"]; ok {
				if _, exists := app["database_kind"]; !exists {
					app["database_kind"] = kind
				}
				delete(app, "database")
			}
			if sections, ok := app["sections"]; ok {
				if _, exists := app["custom_sections"]; !exists {
					app["custom_sections"] = sections
				}
				delete(app, "sections")
			}
			apps[name] = app
		}
	}
	return raw
}
