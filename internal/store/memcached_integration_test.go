//go:build integration
// +build integration

package store

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedStore_SaveLoad_Integration verifies a snapshot round-trips
// through a local memcached, including nil records.
func TestMemcachedStore_SaveLoad_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	defer s.Close()

	ctx := context.Background()
	snap := testSnapshot()
	if err := s.Save(ctx, "integration", snap, time.Minute); err != nil {
		t.Skipf("Save failed (memcached may not be running): %v", err)
	}

	got, ok, err := s.Load(ctx, "integration")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ok {
		t.Fatal("Load() ok = false, want true")
	}
	if !got.Has("plant_002") || got.Plant("plant_002") != nil {
		t.Error("nil record for plant_002 should survive the round trip")
	}
	if rec := got.Plant("plant_001"); rec == nil || rec.SoilMoisture == nil || *rec.SoilMoisture != 42 {
		t.Errorf("plant_001 = %+v, want soil moisture 42", rec)
	}
	if len(got.Order) != 2 || got.Order[0] != "plant_001" {
		t.Errorf("Order = %v, want [plant_001 plant_002]", got.Order)
	}
}

// TestMemcachedStore_Load_Miss_Integration verifies a missing key is a miss, not an error.
func TestMemcachedStore_Load_Miss_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	defer s.Close()

	if err := s.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}
	_, ok, err := s.Load(context.Background(), "does-not-exist-"+time.Now().Format("150405.000"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok {
		t.Error("Load() ok = true, want false for missing key")
	}
}
