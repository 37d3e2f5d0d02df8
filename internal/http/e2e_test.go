package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/planthub-poller/internal/coordinator"
	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/traffic"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

// TestEndToEnd_PartialFailure drives the read API from a real client and
// coordinator against a fake PlantHub webhook where one plant is unknown.
func TestEndToEnd_PartialFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch strings.TrimPrefix(r.URL.Path, "/webhook/v1/planthub/") {
		case "fern":
			w.Write([]byte(`{"name":"Fern","moisture":"45","temperature":21.5,"humidity":60,"light":900}`))
		case "basil":
			w.Write([]byte(`{"soil_moisture":80}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	client, err := webhook.New(webhook.Config{
		Token:   "secret",
		BaseURL: upstream.URL + "/webhook/v1",
		Mode:    webhook.ModePath,
	})
	if err != nil {
		t.Fatalf("webhook.New: %v", err)
	}
	tracker := traffic.NewTracker(0)
	coord := coordinator.New(client, coordinator.Options{
		Plants:   []coordinator.Plant{{ID: "fern"}, {ID: "basil", DisplayName: "Sweet Basil"}, {ID: "ghost"}},
		Recorder: tracker,
		Logger:   zap.NewNop(),
	})
	if _, err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	h := NewHandler(coord, tracker, nil, nil, zap.NewNop())

	w := serve(t, h, "GET", "/plants")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /plants = %d", w.Code)
	}
	var body snapshotResponse
	decodeBody(t, w, &body)
	if body.Error != "" || len(body.Plants) != 3 {
		t.Fatalf("snapshot = %+v, want 3 plants and no error", body)
	}
	if p := body.Plants[0]; p.Record == nil || *p.Record.SoilMoisture != 45 || p.Status != models.StatusWarning {
		t.Errorf("fern = %+v", p)
	}
	if p := body.Plants[1]; p.Name != "Sweet Basil" || p.Status != models.StatusHealthy {
		t.Errorf("basil = %+v", p)
	}

	if w := serve(t, h, "GET", "/plants/ghost"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /plants/ghost = %d, want 503", w.Code)
	}
	if errs, total := tracker.ErrorRate(time.Minute); errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}
