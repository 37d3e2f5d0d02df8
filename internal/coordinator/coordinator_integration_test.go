//go:build integration
// +build integration

package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/planthub-poller/internal/testhelpers"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

func TestClient_Validate_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	client := testhelpers.SetupIntegrationClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Validate(ctx); errors.Is(err, webhook.ErrAuth) {
		t.Fatalf("Validate() = %v, token rejected", err)
	}
}

// TestCoordinator_Refresh_Integration runs one live refresh cycle and checks
// the configured plant is part of the published snapshot.
func TestCoordinator_Refresh_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	coord, cleanup := testhelpers.SetupIntegrationCoordinator(t, cfg)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := coord.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if cfg.Mode != webhook.ModeBatch && !snap.Has(cfg.PlantID) {
		t.Errorf("snapshot %v missing plant %s", snap.Order, cfg.PlantID)
	}
	if snap.Error != "" {
		t.Logf("refresh reported error: %s", snap.Error)
	}
}
