package models

import "time"

// Snapshot is the published result of one refresh cycle. It is never
// modified after publication; a refresh builds a new one.
type Snapshot struct {
	// Plants maps plant id to its record. A nil record means the fetch for
	// that plant failed during this cycle.
	Plants     map[string]*PlantRecord `json:"plants"`
	Order      []string                `json:"order"`
	LastUpdate time.Time               `json:"last_update"`
	Error      string                  `json:"error,omitempty"`
	Stale      bool                    `json:"stale,omitempty"` // restored from the snapshot store, not yet refreshed
}

// NewSnapshot builds a snapshot from ids in order. Later duplicates of an id
// replace the record but keep the first position.
func NewSnapshot(at time.Time, ids []string, records []*PlantRecord) *Snapshot {
	s := &Snapshot{
		Plants:     make(map[string]*PlantRecord, len(ids)),
		Order:      make([]string, 0, len(ids)),
		LastUpdate: at,
	}
	for i, id := range ids {
		if _, seen := s.Plants[id]; !seen {
			s.Order = append(s.Order, id)
		}
		var rec *PlantRecord
		if i < len(records) {
			rec = records[i]
		}
		s.Plants[id] = rec
	}
	return s
}

// Plant returns the record for id, or nil when absent or failed.
func (s *Snapshot) Plant(id string) *PlantRecord {
	if s == nil {
		return nil
	}
	return s.Plants[id]
}

// Has reports whether id is part of the snapshot, even with a nil record.
func (s *Snapshot) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Plants[id]
	return ok
}

// Records returns the non-nil records in snapshot order.
func (s *Snapshot) Records() []PlantRecord {
	if s == nil {
		return nil
	}
	out := make([]PlantRecord, 0, len(s.Order))
	for _, id := range s.Order {
		if rec := s.Plants[id]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// Unavailable counts plants whose record is nil.
func (s *Snapshot) Unavailable() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, rec := range s.Plants {
		if rec == nil {
			n++
		}
	}
	return n
}
