package models

// Status is the health classification derived from soil moisture.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Soil moisture thresholds in percent. Values at or below a threshold fall
// into that band.
const (
	MoistureCritical = 30.0
	MoistureWarning  = 50.0
)

// StatusOf classifies a record by its soil moisture.
func StatusOf(r PlantRecord) Status {
	if r.SoilMoisture == nil {
		return StatusUnknown
	}
	switch m := *r.SoilMoisture; {
	case m <= MoistureCritical:
		return StatusCritical
	case m <= MoistureWarning:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Statuses lists every status value, for presentation option lists.
func Statuses() []Status {
	return []Status{StatusHealthy, StatusWarning, StatusCritical, StatusUnknown}
}
