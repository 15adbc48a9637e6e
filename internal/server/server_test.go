package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/airfuse/airfuse/internal/priority"
)

func newTestServer() *Server {
	return New(":0", priority.New(nil), nil, zap.NewNop().Sugar())
}

func TestHandleSearch(t *testing.T) {
	s := newTestServer()

	body := `{"latitude": 40.7128, "longitude": -74.0060, "city": "New York"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "40.7128_-74.0060") {
		t.Errorf("response missing location id: %s", w.Body.String())
	}

	// The search must be visible in the priority index.
	entries := s.index.PriorityLocations(10)
	if len(entries) != 1 || entries[0].SearchCount != 1 {
		t.Errorf("index after search = %+v", entries)
	}
}

func TestHandleSearchValidation(t *testing.T) {
	s := newTestServer()
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"latitude": `},
		{"latitude out of range", `{"latitude": 99.0, "longitude": 0}`},
		{"longitude out of range", `{"latitude": 0, "longitude": -200}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.http.Handler.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleAlerts(t *testing.T) {
	s := newTestServer()

	body := `{
		"user_id": "user-1",
		"locations": [
			{"latitude": 40.7128, "longitude": -74.0060, "name": "New York"},
			{"latitude": 34.05, "longitude": -118.24, "name": "Los Angeles"}
		],
		"aqi_threshold": 100,
		"channels": "email"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	entries := s.index.PriorityLocations(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 pinned locations, got %d", len(entries))
	}
	for _, e := range entries {
		if e.AlertUserCount != 1 {
			t.Errorf("%s alert count = %d", e.LocationID, e.AlertUserCount)
		}
	}
}

func TestHandleAlertsRequiresUserAndLocations(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(`{"user_id": ""}`))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleCurrentWithoutStorage(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/aqi/current?city=New+York", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without storage", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
