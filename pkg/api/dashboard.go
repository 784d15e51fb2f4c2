package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hivematrix/helm/pkg/metricstore"
	"github.com/hivematrix/helm/pkg/types"
)

// metricHistoryWindow is how far back a metric query reaches when the
// caller gives no range.
const metricHistoryWindow = 24 * time.Hour

// handleDashboard aggregates everything the dashboard needs in one
// round trip: all service statuses plus per-service log counts over
// the last hour.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	statuses := s.cfg.Control.Statuses()

	logStats, err := s.cfg.Logs.ServiceLevelCounts(r.Context(), time.Now().Add(-time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	// Services that logged nothing still get a row.
	for name := range statuses {
		if _, ok := logStats[name]; !ok {
			logStats[name] = map[types.LogLevel]int64{}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"statuses":  statuses,
		"log_stats": logStats,
	})
}

// handleMetricHistory serves stored resource samples for one service.
// Unknown services 404; the default window is the last 24 hours.
func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.cfg.Catalog.Get(name); err != nil {
		writeError(w, err)
		return
	}
	if s.cfg.History == nil {
		writeError(w, fmt.Errorf("metric history is not enabled: %w", types.ErrNotFound))
		return
	}

	q := r.URL.Query()
	until := time.Now()
	since := until.Add(-metricHistoryWindow)

	var err error
	if raw := q.Get("since"); raw != "" {
		if since, err = parseTimeParam("since", raw); err != nil {
			writeError(w, err)
			return
		}
	}
	if raw := q.Get("until"); raw != "" {
		if until, err = parseTimeParam("until", raw); err != nil {
			writeError(w, err)
			return
		}
	}
	limit, err := parseIntParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}

	samples, err := s.cfg.History.QuerySamples(metricstore.Query{
		ServiceName: name,
		MetricName:  q.Get("metric"),
		Since:       since,
		Until:       until,
		Limit:       limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if samples == nil {
		samples = []types.MetricSample{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service_name": name,
		"since":        since.UTC(),
		"until":        until.UTC(),
		"samples":      samples,
	})
}
