package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/types"
)

// directory guards the passthrough endpoints when no IDP client is
// wired, which happens before the identity provider has ever been
// configured.
func (s *Server) directory(w http.ResponseWriter) (Directory, bool) {
	if s.cfg.Users == nil {
		writeError(w, fmt.Errorf("identity provider not configured: %w", types.ErrUpstreamUnavailable))
		return nil, false
	}
	return s.cfg.Users, true
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	users, err := dir.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []idp.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// createUserRequest adds the optional initial password and group
// memberships to the basic user fields. Enabled defaults to true.
type createUserRequest struct {
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Enabled       *bool    `json:"enabled"`
	EmailVerified bool     `json:"emailVerified"`
	Password      string   `json:"password"`
	Temporary     *bool    `json:"temporary"`
	Groups        []string `json:"groups"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	id, err := dir.CreateUser(r.Context(), idp.User{
		Username:      req.Username,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Enabled:       enabled,
		EmailVerified: req.EmailVerified,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Password != "" {
		temporary := true
		if req.Temporary != nil {
			temporary = *req.Temporary
		}
		if err := dir.ResetPassword(r.Context(), id, req.Password, temporary); err != nil {
			writeError(w, fmt.Errorf("user %s created but setting password failed: %w", id, err))
			return
		}
	}
	if len(req.Groups) > 0 {
		if _, _, err := dir.SetUserGroups(r.Context(), id, req.Groups); err != nil {
			writeError(w, fmt.Errorf("user %s created but assigning groups failed: %w", id, err))
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	user, err := dir.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	var fields map[string]any
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if err := dir.UpdateUser(r.Context(), chi.URLParam(r, "id"), fields); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	if err := dir.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	var req struct {
		Password  string `json:"password"`
		Temporary *bool  `json:"temporary"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	temporary := true
	if req.Temporary != nil {
		temporary = *req.Temporary
	}
	if err := dir.ResetPassword(r.Context(), chi.URLParam(r, "id"), req.Password, temporary); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	groups, err := dir.UserGroups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []idp.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleSetUserGroups replaces a user's memberships with the given
// set and reports what actually changed.
func (s *Server) handleSetUserGroups(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	var req struct {
		Groups []string `json:"groups"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	added, removed, err := dir.SetUserGroups(r.Context(), chi.URLParam(r, "id"), req.Groups)
	if err != nil {
		writeError(w, err)
		return
	}
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "removed": removed})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.directory(w)
	if !ok {
		return
	}
	groups, err := dir.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []idp.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
