package store

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/planthub-poller/internal/models"
)

// SnapshotStore persists the last published snapshot so known plant ids
// survive a restart. It holds one snapshot per key and no history.
type SnapshotStore interface {
	Load(ctx context.Context, key string) (*models.Snapshot, bool, error)
	Save(ctx context.Context, key string, snap *models.Snapshot, ttl time.Duration) error
}

// InMemoryStore keeps snapshots in process memory. Useful in tests and for
// single-instance deployments that only need placeholders across refreshes.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	snap      *models.Snapshot
	expiresAt time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]entry), now: time.Now}
}

// Load returns the snapshot saved under key if present and not expired.
func (s *InMemoryStore) Load(ctx context.Context, key string) (*models.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}
	return e.snap, true, nil
}

// Save stores snap under key until ttl elapses. Snapshots are immutable, so
// the pointer is kept as is.
func (s *InMemoryStore) Save(ctx context.Context, key string, snap *models.Snapshot, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{snap: snap, expiresAt: s.now().Add(ttl)}
	return nil
}
