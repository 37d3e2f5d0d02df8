// Package sensors maps plant records onto display-ready readings: one
// labeled, unit-tagged value per sensor plus a derived health status.
package sensors

import (
	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

// Device metadata reported for every plant.
const (
	Manufacturer = "PlantHub"
	Model        = "PlantHub Sensor"
)

// Units.
const (
	UnitPercent      = "%"
	UnitCelsius      = "°C"
	UnitLux          = "lx"
	UnitMicroSiemens = "µS/cm"
)

// DeviceClass tells a display what kind of quantity a reading is.
type DeviceClass string

const (
	ClassMoisture     DeviceClass = "moisture"
	ClassTemperature  DeviceClass = "temperature"
	ClassHumidity     DeviceClass = "humidity"
	ClassIlluminance  DeviceClass = "illuminance"
	ClassConductivity DeviceClass = "conductivity"
	ClassEnum         DeviceClass = "enum"
)

// Descriptor describes one sensor of a plant.
type Descriptor struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Unit        string      `json:"unit,omitempty"`
	DeviceClass DeviceClass `json:"device_class"`
	Icon        string      `json:"icon,omitempty"`

	value func(models.PlantRecord) *float64
}

// Descriptors lists the numeric sensors in display order.
var Descriptors = []Descriptor{
	{Key: "soil_moisture", Name: "Soil Moisture", Unit: UnitPercent, DeviceClass: ClassMoisture, Icon: "mdi:water-percent",
		value: func(r models.PlantRecord) *float64 { return r.SoilMoisture }},
	{Key: "air_temperature", Name: "Temperature", Unit: UnitCelsius, DeviceClass: ClassTemperature, Icon: "mdi:thermometer",
		value: func(r models.PlantRecord) *float64 { return r.AirTemperature }},
	{Key: "air_humidity", Name: "Air Humidity", Unit: UnitPercent, DeviceClass: ClassHumidity, Icon: "mdi:water",
		value: func(r models.PlantRecord) *float64 { return r.AirHumidity }},
	{Key: "illuminance", Name: "Light", Unit: UnitLux, DeviceClass: ClassIlluminance, Icon: "mdi:white-balance-sunny",
		value: func(r models.PlantRecord) *float64 { return r.Illuminance }},
	{Key: "fertilizer", Name: "Fertilizer", Unit: UnitMicroSiemens, DeviceClass: ClassConductivity, Icon: "mdi:leaf",
		value: func(r models.PlantRecord) *float64 { return r.Fertilizer }},
}

// Device identifies the physical sensor behind a plant.
type Device struct {
	Identifier      string `json:"identifier"`
	Name            string `json:"name"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	SoftwareVersion string `json:"sw_version"`
}

// Reading is one sensor's current value. Value is nil when the sensor
// reported nothing or the plant's last fetch failed.
type Reading struct {
	UniqueID string `json:"unique_id"`
	Name     string `json:"name"`
	Descriptor
	Value     *float64 `json:"value"`
	Available bool     `json:"available"`
}

// StatusReading is the derived health status of a plant.
type StatusReading struct {
	UniqueID    string          `json:"unique_id"`
	Name        string          `json:"name"`
	DeviceClass DeviceClass     `json:"device_class"`
	State       models.Status   `json:"state"`
	Options     []models.Status `json:"options"`
}

// Plant is everything a display needs for one plant.
type Plant struct {
	PlantID  string        `json:"plant_id"`
	Name     string        `json:"name"`
	Device   Device        `json:"device"`
	Status   StatusReading `json:"status"`
	Readings []Reading     `json:"readings"`
}

// Build presents rec for plantID. rec may be nil when the last fetch failed;
// readings are then unavailable and the status unknown.
func Build(plantID, name string, rec *models.PlantRecord) Plant {
	if name == "" {
		name = plantID
	}
	p := Plant{
		PlantID: plantID,
		Name:    name,
		Device: Device{
			Identifier:      plantID,
			Name:            name,
			Manufacturer:    Manufacturer,
			Model:           Model,
			SoftwareVersion: webhook.Version,
		},
		Status: StatusReading{
			UniqueID:    plantID + "_status",
			Name:        name + " Status",
			DeviceClass: ClassEnum,
			State:       models.StatusUnknown,
			Options:     models.Statuses(),
		},
		Readings: make([]Reading, 0, len(Descriptors)),
	}
	if rec != nil {
		p.Status.State = models.StatusOf(*rec)
	}
	for _, d := range Descriptors {
		r := Reading{
			UniqueID:   plantID + "_" + d.Key,
			Name:       name + " " + d.Name,
			Descriptor: d,
		}
		if rec != nil {
			r.Value = d.value(*rec)
			r.Available = true
		}
		p.Readings = append(p.Readings, r)
	}
	return p
}
