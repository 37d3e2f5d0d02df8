package main

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	httphandler "github.com/kjstillabower/planthub-poller/internal/http"
)

// deadlineRecorder records how long each request had left when it reached its handler.
type deadlineRecorder struct {
	mu   sync.Mutex
	left map[string]time.Duration
}

func (d *deadlineRecorder) record(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left := time.Duration(-1)
		if dl, ok := r.Context().Deadline(); ok {
			left = time.Until(dl)
		}
		d.mu.Lock()
		d.left[name] = left
		d.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (d *deadlineRecorder) GetHealth(w http.ResponseWriter, r *http.Request) {
	d.record("health")(w, r)
}

func (d *deadlineRecorder) GetPlants(w http.ResponseWriter, r *http.Request) {
	d.record("plants")(w, r)
}

func (d *deadlineRecorder) GetPlant(w http.ResponseWriter, r *http.Request) {
	d.record("plant")(w, r)
}

func (d *deadlineRecorder) GetPlantSensors(w http.ResponseWriter, r *http.Request) {
	d.record("sensors")(w, r)
}

func (d *deadlineRecorder) PostRefresh(w http.ResponseWriter, r *http.Request) {
	d.record("refresh")(w, r)
}

func TestNewRouter_RouteDeadlines(t *testing.T) {
	rec := &deadlineRecorder{left: map[string]time.Duration{}}
	timeouts := routeTimeouts{Request: 2 * time.Second, Refresh: time.Minute}
	router := newRouter(rec, nil, nil, &httphandler.InFlightTracker{}, timeouts, zap.NewNop())

	tests := []struct {
		method, path, name string
		min, max           time.Duration
	}{
		{"GET", "/plants", "plants", time.Second, timeouts.Request},
		{"GET", "/plants/p1", "plant", time.Second, timeouts.Request},
		{"GET", "/plants/p1/sensors", "sensors", time.Second, timeouts.Request},
		{"POST", "/refresh", "refresh", timeouts.Request, timeouts.Refresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("%s %s status = %d, want 200", tt.method, tt.path, w.Code)
			}
			rec.mu.Lock()
			left, ok := rec.left[tt.name]
			rec.mu.Unlock()
			if !ok {
				t.Fatalf("%s handler not reached", tt.name)
			}
			if left <= tt.min || left > tt.max {
				t.Errorf("%s deadline in %v, want between %v and %v", tt.name, left, tt.min, tt.max)
			}
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if left := rec.left["health"]; left != -1 {
		t.Errorf("health deadline in %v, want none", left)
	}
}
