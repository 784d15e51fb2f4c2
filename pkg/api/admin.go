package api

import (
	"net/http"

	"github.com/hivematrix/helm/pkg/types"
)

// redactedValue replaces secrets in config responses. Update strips it
// back out of patches so a client can round-trip a GET body without
// clobbering real secrets.
const redactedValue = "[redacted]"

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, redactConfig(s.cfg.Admin.ConfigSnapshot()))
}

// handleUpdateConfig deep-merges a JSON patch into the master config
// and answers with the redacted result.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	stripRedacted(patch)

	updated, err := s.cfg.Admin.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactConfig(updated))
}

// handleBootstrapIDP runs the identity-provider reconcile now and
// reports what changed. The client secret itself never leaves the
// orchestrator.
func (s *Server) handleBootstrapIDP(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Admin.BootstrapIDP(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frontend_url":       result.FrontendURL,
		"realm_created":      result.RealmCreated,
		"client_created":     result.ClientCreated,
		"groups_created":     result.GroupsCreated,
		"mapper_created":     result.MapperCreated,
		"admin_user_created": result.AdminUserCreated,
		"client_secret_set":  result.ClientSecret != "",
	})
}

// redactConfig blanks every secret field on a config snapshot. The
// snapshot is already a deep copy, so mutating it is safe.
func redactConfig(cfg *types.MasterConfig) *types.MasterConfig {
	if cfg == nil {
		return nil
	}
	redact := func(v *string) {
		if *v != "" {
			*v = redactedValue
		}
	}
	redact(&cfg.System.SecretKey)
	redact(&cfg.IdentityProvider.ClientSecret)
	redact(&cfg.IdentityProvider.AdminPassword)
	redact(&cfg.Databases.Relational.AdminPassword)
	if cfg.Databases.Graph != nil {
		redact(&cfg.Databases.Graph.Password)
	}
	for name, app := range cfg.Apps {
		if app.DBPassword != "" {
			app.DBPassword = redactedValue
			cfg.Apps[name] = app
		}
	}
	return cfg
}

// stripRedacted removes placeholder values from a patch so round-
// tripped redacted fields keep their stored values.
func stripRedacted(patch map[string]any) {
	for key, value := range patch {
		switch v := value.(type) {
		case string:
			if v == redactedValue {
				delete(patch, key)
			}
		case map[string]any:
			stripRedacted(v)
		}
	}
}
