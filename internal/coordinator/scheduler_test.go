package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

func TestScheduler_RefreshesImmediately(t *testing.T) {
	f := &fakeFetcher{mode: webhook.ModeBatch, batch: []models.PlantRecord{record("a", 40)}}
	c := newTestCoordinator(f, Options{})
	s := NewScheduler(context.Background(), c, time.Hour, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.CurrentSnapshot() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.CurrentSnapshot() == nil {
		t.Fatal("no snapshot published after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestScheduler_StopCancelsRunningRefresh(t *testing.T) {
	f := &fakeFetcher{mode: webhook.ModeBatch, block: make(chan struct{})}
	c := newTestCoordinator(f, Options{})
	s := NewScheduler(context.Background(), c, time.Hour, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for f.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for f.inFlight.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.CurrentSnapshot() != nil {
		t.Error("cancelled refresh should not publish")
	}
}

func TestScheduler_InvalidInterval(t *testing.T) {
	s := NewScheduler(context.Background(), newTestCoordinator(&fakeFetcher{}, Options{}), 0, nil)
	if err := s.Start(); err == nil {
		t.Error("Start() with zero interval should fail")
	}
}
