// Package server exposes the small HTTP surface external collaborators
// use: search and alert registration feeding the priority index, and a
// read path over the latest stored AQI rows.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/airfuse/airfuse/internal/priority"
	"github.com/airfuse/airfuse/internal/storage"
	"github.com/airfuse/airfuse/internal/types"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	index  *priority.Index
	store  *storage.Client
	logger *zap.SugaredLogger
	http   *http.Server
}

// New builds the server and its routes.
func New(addr string, index *priority.Index, store *storage.Client, logger *zap.SugaredLogger) *Server {
	s := &Server{
		index:  index,
		store:  store,
		logger: logger.Named("server"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/search", s.handleSearch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/alerts", s.handleAlerts).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/aqi/current", s.handleCurrent).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Infow("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type searchRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
}

// handleSearch records one search and returns the closest tracked
// location so the caller can show cached data immediately.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validCoords(req.Latitude, req.Longitude) {
		s.writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := s.index.RegisterSearch(r.Context(), req.Latitude, req.Longitude, req.City); err != nil {
		s.logger.Errorw("search registration failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "search registration failed")
		return
	}

	resp := map[string]interface{}{
		"location_id": types.LocationID(req.Latitude, req.Longitude),
		"registered":  true,
	}
	if nearest := s.index.FindNearest(req.Latitude, req.Longitude, 25); nearest != nil {
		resp["nearest"] = nearest
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type alertRequest struct {
	UserID       string           `json:"user_id"`
	Locations    []types.Location `json:"locations"`
	AQIThreshold int              `json:"aqi_threshold"`
	Channels     string           `json:"channels"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || len(req.Locations) == 0 {
		s.writeError(w, http.StatusBadRequest, "user_id and locations are required")
		return
	}
	for _, loc := range req.Locations {
		if !validCoords(loc.Latitude, loc.Longitude) {
			s.writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		}
	}

	err := s.index.RegisterAlert(r.Context(), priority.AlertRequest{
		UserID:       req.UserID,
		Locations:    req.Locations,
		AQIThreshold: req.AQIThreshold,
		Channels:     req.Channels,
	})
	if err != nil {
		s.logger.Errorw("alert registration failed", "user", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "alert registration failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"registered": true,
		"locations":  len(req.Locations),
	})
}

// handleCurrent returns the latest stored row for a city, or for the
// tracked location nearest to a coordinate pair.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}

	city := r.URL.Query().Get("city")
	if city == "" {
		lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
		if latErr != nil || lonErr != nil {
			s.writeError(w, http.StatusBadRequest, "city or lat/lon query parameters required")
			return
		}
		nearest := s.index.FindNearest(lat, lon, 50)
		if nearest == nil {
			s.writeError(w, http.StatusNotFound, "no tracked location nearby")
			return
		}
		city = nearest.City
	}

	rec, err := s.store.LatestHourly(r.Context(), city)
	if err != nil {
		s.logger.Errorw("current AQI lookup failed", "city", city, "error", err)
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "no data for location")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorw("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func validCoords(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
