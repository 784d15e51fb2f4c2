package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hivematrix/helm/pkg/auth"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/types"
)

type contextKey string

const identityKey contextKey = "helm-identity"

// CallerFrom returns the identity stored by the auth middleware, or
// nil on unauthenticated routes.
func CallerFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// statusWriter captures status code and bytes written for the access
// log.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// accessLog emits one structured line per request and feeds the API
// request metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		if ww.status == 0 {
			ww.status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Int("bytes", ww.bytes).
			Dur("duration", elapsed).
			Str("remote_ip", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// authenticate resolves the bearer token into an identity and stores
// it in the request context. Identity-service transport failures
// surface as 502, everything else as 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, fmt.Errorf("%v: %w", err, types.ErrUnauthorized))
			return
		}

		id, err := s.cfg.Verifier.Verify(r.Context(), raw)
		if err != nil {
			logEvent := s.logger.Debug()
			if errors.Is(err, types.ErrUpstreamUnavailable) {
				logEvent = s.logger.Warn()
			}
			logEvent.Err(err).Str("path", r.URL.Path).Msg("Token rejected")
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates mutating routes: admin users and service tokens
// pass, everyone else gets 403.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.RequireAdmin(CallerFrom(r.Context())); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header is not a bearer token")
	}
	return parts[1], nil
}
