package coordinator

import (
	"time"

	"github.com/kjstillabower/planthub-poller/internal/models"
)

// PlaceholderPolicy returns the records to publish when no plants are
// configured, so downstream readers have something to render.
type PlaceholderPolicy func(at time.Time) []models.PlantRecord

// StaticPlaceholders returns a policy publishing one empty record per plant.
func StaticPlaceholders(plants []Plant) PlaceholderPolicy {
	plants = append([]Plant(nil), plants...)
	return func(at time.Time) []models.PlantRecord {
		out := make([]models.PlantRecord, 0, len(plants))
		for _, p := range plants {
			out = append(out, models.Placeholder(p.ID, p.DisplayName, at))
		}
		return out
	}
}
