package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/pipeline"
	"flight_tracker/internal/source"
	"flight_tracker/internal/store"
)

// FlightsResponse is returned by the flight list endpoints. Now lets
// clients poll /flights/since/{now} next.
type FlightsResponse struct {
	Now     int64           `json:"now"`
	Flights []flight.Flight `json:"flights"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	maxAge, err := durationParam(r, "max_age", s.cfg.MaxAge)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().UnixMilli()
	flights, err := s.store.GetAll(r.Context(), maxAge)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlightsResponse{Now: now, Flights: flights})
}

func (s *Server) handleFlightsSince(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	if err != nil || since < 0 {
		writeError(w, http.StatusBadRequest, "ts must be epoch milliseconds")
		return
	}
	maxAge, err := durationParam(r, "max_age", s.cfg.MaxAge)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().UnixMilli()
	flights, err := s.store.GetSince(r.Context(), since, maxAge)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlightsResponse{Now: now, Flights: flights})
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.cfg.MaxTrailPoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.store.GetTrail(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	to, err := timeParam(r, "to", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := timeParam(r, "from", to.Add(-time.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	points, err := s.history.History(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleTrails(w http.ResponseWriter, r *http.Request) {
	maxAge, err := durationParam(r, "max_age", s.cfg.MaxAge)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxPoints, err := intParam(r, "max_points", s.cfg.MaxTrailPoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trails, err := s.store.GetAllTrails(r.Context(), maxAge, maxPoints)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trails)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	res, err := s.ingester.Tick(r.Context())

	var fe *source.FetchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, pipeline.ErrTickInFlight):
		writeError(w, http.StatusConflict, "Ingestion tick already running")
	case errors.As(err, &fe):
		writeError(w, http.StatusBadGateway, "Upstream fetch failed")
	default:
		s.internalError(w, r, err)
	}
}

// internalError logs err and sends a generic 500; storage details are not
// exposed to clients.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// durationParam accepts a Go duration ("90s") or integer milliseconds.
func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("%s must be positive", name)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration or milliseconds", name)
	}
	return d, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or epoch milliseconds.
func timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339 or epoch milliseconds", name)
	}
	return t, nil
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
