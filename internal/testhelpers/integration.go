//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/planthub-poller/internal/coordinator"
	"github.com/kjstillabower/planthub-poller/internal/observability"
	"github.com/kjstillabower/planthub-poller/internal/store"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

// IntegrationTestConfig holds configuration for tests against a live PlantHub webhook.
type IntegrationTestConfig struct {
	Token         string
	BaseURL       string
	PlantID       string
	Mode          webhook.AddressingMode
	StoreBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if PLANTHUB_API_TOKEN is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	token := os.Getenv("PLANTHUB_API_TOKEN")
	if token == "" {
		t.Skip("PLANTHUB_API_TOKEN not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		Token:         token,
		BaseURL:       os.Getenv("PLANTHUB_BASE_URL"),
		PlantID:       os.Getenv("PLANTHUB_PLANT_ID"),
		StoreBackend:  os.Getenv("INTEGRATION_STORE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = webhook.DefaultBaseURL
	}
	if cfg.PlantID == "" {
		cfg.PlantID = "example_plant"
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	mode, err := webhook.ParseAddressingMode(os.Getenv("PLANTHUB_ADDRESSING_MODE"))
	if err != nil {
		t.Fatalf("PLANTHUB_ADDRESSING_MODE: %v", err)
	}
	cfg.Mode = mode
	return cfg
}

// SetupIntegrationClient creates a webhook client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *webhook.Client {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	client, err := webhook.New(webhook.Config{
		Token:   cfg.Token,
		BaseURL: cfg.BaseURL,
		Timeout: 10 * time.Second,
		Mode:    cfg.Mode,
	}, webhook.WithLogger(logger))
	if err != nil {
		t.Fatalf("webhook.New() error = %v", err)
	}
	return client
}

// SetupIntegrationCoordinator creates a coordinator for cfg.PlantID backed by
// the configured snapshot store. The cleanup func closes the store.
func SetupIntegrationCoordinator(t *testing.T, cfg IntegrationTestConfig) (*coordinator.Coordinator, func()) {
	t.Helper()
	var snapshots store.SnapshotStore = store.NewInMemoryStore()
	cleanup := func() {}
	if cfg.StoreBackend == "memcached" {
		mc := store.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("Memcached not available (%v), using in-memory store", err)
		} else {
			snapshots = mc
			cleanup = func() { _ = mc.Close() }
		}
	}
	coord := coordinator.New(SetupIntegrationClient(t, cfg), coordinator.Options{
		Plants:   []coordinator.Plant{{ID: cfg.PlantID}},
		Store:    snapshots,
		StoreKey: "integration",
		StoreTTL: time.Minute,
	})
	return coord, cleanup
}
