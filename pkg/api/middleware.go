package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/droverhq/drover/pkg/auth"
	"github.com/droverhq/drover/pkg/metrics"
)

type contextKey string

const claimsKey contextKey = "claims"

// claims extracts the validated token claims stored by authenticate.
func claims(r *http.Request) *auth.Claims {
	c, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return c
}

// authenticate validates the bearer token on every /api request and
// stores its claims in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}

		c, err := auth.Validate(s.secret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", "")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, c)))
	})
}

// admin gates a handler on the admin role.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := claims(r)
		if c == nil || !c.Allows(auth.RoleAdmin) {
			writeError(w, http.StatusForbidden, "admin role required", "")
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs each request and feeds the API metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket stream hijacks the connection; wrapping the
		// writer would break the upgrade.
		if r.URL.Path == "/api/events" {
			next.ServeHTTP(w, r)
			return
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(r.Method))

		route := r.Method + " " + r.URL.Path
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()

		s.logger.Debug().
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", timer.Duration()).
			Msg("request")
	})
}
