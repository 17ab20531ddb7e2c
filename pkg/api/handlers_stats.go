package api

import (
	"net/http"
	"time"

	"github.com/droverhq/drover/pkg/stats"
	"github.com/droverhq/drover/pkg/types"
)

// aggregatorFor resolves the ?date= query to a day's aggregator,
// defaulting to today. Reports false after writing a 400 for a malformed
// date.
func (s *Server) aggregatorFor(w http.ResponseWriter, r *http.Request) (*stats.Aggregator, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return s.gw.Stats.Today(), true
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", "date must be YYYY-MM-DD")
		return nil, false
	}
	return s.gw.Stats.For(date), true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agg, ok := s.aggregatorFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agg.GetStats())
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	agg, ok := s.aggregatorFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agg.GetHourlyReport())
}

func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	agg, ok := s.aggregatorFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agg.GetServerStats(r.PathValue("id")))
}

func (s *Server) handleBalancerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Balancer.Status())
}

func (s *Server) handleSetAlgorithm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Algorithm string `json:"algorithm"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	algorithm, err := types.ParseAlgorithm(body.Algorithm)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	if err := s.gw.Balancer.SetAlgorithm(algorithm); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true})
}
