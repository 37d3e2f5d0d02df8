package models

import "time"

// PlantRecord is one plant's normalized readings. Sensor fields are nil when
// the upstream payload omitted them or they could not be parsed.
type PlantRecord struct {
	PlantID        string    `json:"plant_id"`
	PlantName      string    `json:"plant_name"`
	SoilMoisture   *float64  `json:"soil_moisture"`
	AirTemperature *float64  `json:"air_temperature"`
	AirHumidity    *float64  `json:"air_humidity"`
	Illuminance    *float64  `json:"illuminance"`
	Fertilizer     *float64  `json:"fertilizer,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
}

// Placeholder returns a record with identity set and no readings.
func Placeholder(id, name string, at time.Time) PlantRecord {
	if name == "" {
		name = id
	}
	return PlantRecord{PlantID: id, PlantName: name, LastUpdate: at}
}

// HasReadings reports whether at least one sensor value is present.
func (r PlantRecord) HasReadings() bool {
	return r.SoilMoisture != nil || r.AirTemperature != nil || r.AirHumidity != nil ||
		r.Illuminance != nil || r.Fertilizer != nil
}

// Float returns a pointer to v, for building records in code.
func Float(v float64) *float64 {
	return &v
}
