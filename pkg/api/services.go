package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hivematrix/helm/pkg/types"
)

// handleListServices returns the full catalog: names in install order
// plus the entry details keyed by name.
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Catalog.List()

	names := make([]string, 0, len(entries))
	details := make(map[string]types.ServiceEntry, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
		details[entry.Name] = entry
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"services": names,
		"details":  details,
	})
}

func (s *Server) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Control.Statuses())
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Control.Status(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// modeRequest is the optional body of start/restart. An empty or
// absent mode falls back to production.
type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.cfg.Control.Start)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.cfg.Control.Restart)
}

// lifecycle factors the shared shape of start and restart: decode the
// optional mode, run the operation, answer with the final status.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, name string, mode types.RunMode) (types.ServiceStatus, error),
) {
	var req modeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	mode, err := types.ParseRunMode(req.Mode)
	if err != nil {
		writeError(w, fmt.Errorf("%v: %w", err, types.ErrInvalidInput))
		return
	}

	status, err := op(r.Context(), chi.URLParam(r, "name"), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Control.Stop(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
