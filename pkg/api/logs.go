package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/types"
)

// ingestRequest is the wire format every managed service ships logs
// in. The batch-level service name applies to all entries; service
// tokens may omit it and are attributed to the calling service.
type ingestRequest struct {
	ServiceName string           `json:"service_name"`
	Logs        []types.LogEntry `json:"logs"`
}

func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Logs) == 0 {
		writeError(w, fmt.Errorf("missing logs array: %w", types.ErrInvalidInput))
		return
	}

	serviceName := req.ServiceName
	if serviceName == "" {
		if caller := CallerFrom(r.Context()); caller != nil && caller.Service {
			serviceName = caller.CallingService
		}
	}
	if serviceName == "" {
		writeError(w, fmt.Errorf("service_name is required: %w", types.ErrInvalidInput))
		return
	}

	for i := range req.Logs {
		req.Logs[i].ServiceName = serviceName
	}

	accepted, err := s.cfg.Logs.Ingest(r.Context(), req.Logs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingested": accepted})
}

// handleQueryLogs serves filtered, paginated log pages:
// {total, limit, offset, logs}.
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := s.cfg.Logs.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.cfg.Logs.Count(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []types.LogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  effectiveLimit(filter.Limit),
		"offset": filter.Offset,
		"logs":   entries,
	})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("log id must be an integer: %w", types.ErrInvalidInput))
		return
	}
	entry, err := s.cfg.Logs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleLogStats counts entries by level since a cutoff, defaulting to
// the last hour.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseTimeParam("since", raw)
		if err != nil {
			writeError(w, err)
			return
		}
		since = parsed
	}

	stats, err := s.cfg.Logs.QueryStats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// logFilterFromQuery parses the query-string filters. Bad values are
// invalid input, not silently ignored.
func logFilterFromQuery(r *http.Request) (types.LogFilter, error) {
	q := r.URL.Query()
	filter := types.LogFilter{
		ServiceName: q.Get("service"),
		MinLevel:    types.LogLevel(q.Get("level")),
		TraceID:     q.Get("trace_id"),
		UserID:      q.Get("user_id"),
	}

	var err error
	if raw := q.Get("since"); raw != "" {
		if filter.Since, err = parseTimeParam("since", raw); err != nil {
			return filter, err
		}
	}
	if raw := q.Get("until"); raw != "" {
		if filter.Until, err = parseTimeParam("until", raw); err != nil {
			return filter, err
		}
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTimeParam accepts RFC 3339, with or without the zone suffix.
func parseTimeParam(name, raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s timestamp %q: %w", name, raw, types.ErrInvalidInput)
}

func parseIntParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, types.ErrInvalidInput)
	}
	return v, nil
}

// effectiveLimit mirrors the store's defaulting so the response echoes
// the limit that was actually applied.
func effectiveLimit(limit int) int {
	if limit <= 0 {
		return logstore.DefaultQueryLimit
	}
	if limit > logstore.MaxQueryLimit {
		return logstore.MaxQueryLimit
	}
	return limit
}
