package webhook

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/planthub-poller/internal/models"
)

func newTestNormalizer() (*Normalizer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewNormalizer(zap.New(core), func() time.Time { return fixedNow }), logs
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := decodeJSON([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestNormalize_FieldFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, r models.PlantRecord)
	}{
		{
			name:    "primary names",
			payload: `{"soil_moisture": 40, "air_temperature": 21.5, "air_humidity": 55, "light": 800, "fertilizer": 350}`,
			check: func(t *testing.T, r models.PlantRecord) {
				checkFloat(t, "SoilMoisture", r.SoilMoisture, 40)
				checkFloat(t, "AirTemperature", r.AirTemperature, 21.5)
				checkFloat(t, "AirHumidity", r.AirHumidity, 55)
				checkFloat(t, "Illuminance", r.Illuminance, 800)
				checkFloat(t, "Fertilizer", r.Fertilizer, 350)
			},
		},
		{
			name:    "legacy names",
			payload: `{"moisture": 41, "temperature": 19, "humidity": 50, "illuminance": 1200, "conductivity": 90}`,
			check: func(t *testing.T, r models.PlantRecord) {
				checkFloat(t, "SoilMoisture", r.SoilMoisture, 41)
				checkFloat(t, "AirTemperature", r.AirTemperature, 19)
				checkFloat(t, "AirHumidity", r.AirHumidity, 50)
				checkFloat(t, "Illuminance", r.Illuminance, 1200)
				checkFloat(t, "Fertilizer", r.Fertilizer, 90)
			},
		},
		{
			name:    "primary wins over legacy",
			payload: `{"soil_moisture": 10, "moisture": 90, "light": 5, "illuminance": 500}`,
			check: func(t *testing.T, r models.PlantRecord) {
				checkFloat(t, "SoilMoisture", r.SoilMoisture, 10)
				checkFloat(t, "Illuminance", r.Illuminance, 5)
			},
		},
		{
			name:    "unparsable primary falls through",
			payload: `{"soil_moisture": "wet", "moisture": "12.5"}`,
			check: func(t *testing.T, r models.PlantRecord) {
				checkFloat(t, "SoilMoisture", r.SoilMoisture, 12.5)
			},
		},
		{
			name:    "null and bool are not numbers",
			payload: `{"soil_moisture": null, "air_temperature": true, "air_humidity": {"v": 1}}`,
			check: func(t *testing.T, r models.PlantRecord) {
				if r.SoilMoisture != nil || r.AirTemperature != nil || r.AirHumidity != nil {
					t.Errorf("expected nil readings, got %+v", r)
				}
			},
		},
		{
			name:    "non-finite strings rejected",
			payload: `{"soil_moisture": "NaN", "light": "Inf"}`,
			check: func(t *testing.T, r models.PlantRecord) {
				if r.SoilMoisture != nil || r.Illuminance != nil {
					t.Errorf("expected nil readings, got %+v", r)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer()
			tt.check(t, n.Normalize(decode(t, tt.payload), "plant_001"))
		})
	}
}

func TestNormalize_NameAndID(t *testing.T) {
	n, _ := newTestNormalizer()

	rec := n.Normalize(decode(t, `{"id": "srv-9", "name": "Ficus"}`), "plant_001")
	if rec.PlantID != "plant_001" {
		t.Errorf("PlantID = %q, want caller id", rec.PlantID)
	}
	if rec.PlantName != "Ficus" {
		t.Errorf("PlantName = %q, want Ficus", rec.PlantName)
	}

	for _, payload := range []string{`{}`, `{"name": ""}`, `{"name": null}`, `{"name": 12}`} {
		rec := n.Normalize(decode(t, payload), "plant_002")
		if rec.PlantName != "plant_002" {
			t.Errorf("payload %s: PlantName = %q, want plant_002", payload, rec.PlantName)
		}
	}
}

func TestNormalize_Timestamp(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    time.Time
	}{
		{"rfc3339", `{"last_updated": "2024-05-01T10:00:00Z"}`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"offset", `{"last_updated": "2024-05-01T12:00:00+02:00"}`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"fractional no zone", `{"last_updated": "2024-05-01T10:00:00.123456"}`, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"space separated", `{"last_updated": "2024-05-01 10:00:00"}`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"unparsable", `{"last_updated": "yesterday"}`, fixedNow},
		{"missing", `{}`, fixedNow},
		{"wrong type", `{"last_updated": 1714557600}`, fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer()
			got := n.Normalize(decode(t, tt.payload), "p").LastUpdate
			if !got.Equal(tt.want) {
				t.Errorf("LastUpdate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Fallback(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"string payload", "hello"},
		{"number payload", json.Number("3")},
		{"nil payload", nil},
		{"empty array", []any{}},
		{"array of scalars", []any{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, logs := newTestNormalizer()
			rec := n.Normalize(tt.raw, "plant_001")
			want := models.Placeholder("plant_001", "plant_001", fixedNow)
			if !reflect.DeepEqual(rec, want) {
				t.Errorf("Normalize() = %+v, want %+v", rec, want)
			}
			if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
				t.Errorf("expected one error log, got %d", logs.Len())
			}
		})
	}
}

func TestNormalize_ArrayUnwrapsFirstElement(t *testing.T) {
	n, _ := newTestNormalizer()
	rec := n.Normalize(decode(t, `[{"soil_moisture": 5}, {"soil_moisture": 95}]`), "p")
	checkFloat(t, "SoilMoisture", rec.SoilMoisture, 5)
}

func TestNormalize_RangeValidationWarnsOnly(t *testing.T) {
	n, logs := newTestNormalizer()
	rec := n.Normalize(decode(t, `{"soil_moisture": 150, "air_humidity": -3, "air_temperature": 25}`), "plant_001")

	checkFloat(t, "SoilMoisture", rec.SoilMoisture, 150)
	checkFloat(t, "AirHumidity", rec.AirHumidity, -3)

	warnings := logs.FilterMessage("reading out of range").All()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %d, want 2", len(warnings))
	}
	fields := map[string]bool{}
	for _, w := range warnings {
		if w.Level != zapcore.WarnLevel {
			t.Errorf("level = %v, want warn", w.Level)
		}
		fields[w.ContextMap()["field"].(string)] = true
	}
	if !fields["soil_moisture"] || !fields["air_humidity"] {
		t.Errorf("warned fields = %v, want soil_moisture and air_humidity", fields)
	}
}

func TestNormalize_BoundaryValuesAccepted(t *testing.T) {
	n, logs := newTestNormalizer()
	n.Normalize(decode(t, `{"soil_moisture": 0, "air_humidity": 100, "air_temperature": -50, "light": 0}`), "p")
	n.Normalize(decode(t, `{"soil_moisture": 100, "air_temperature": 100}`), "p")
	if logs.Len() != 0 {
		t.Errorf("boundary values should not warn, got %d logs", logs.Len())
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n, _ := newTestNormalizer()
	raw := decode(t, `{"name": "Pothos", "moisture": "44", "temperature": 23, "light": 300}`)

	first := n.Normalize(raw, "plant_001")
	second := n.Normalize(raw, "plant_001")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Normalize not idempotent: %+v vs %+v", first, second)
	}
}

func TestNormalizeJSON_InvalidJSON(t *testing.T) {
	n, _ := newTestNormalizer()
	if _, err := n.NormalizeJSON([]byte(`{"soil_moisture": `), "p"); err == nil {
		t.Error("NormalizeJSON() expected decode error")
	}
}

func TestFirstFloat_PriorityOrder(t *testing.T) {
	obj := map[string]any{"b": 2.0, "c": "3"}
	tests := []struct {
		keys []string
		want *float64
	}{
		{[]string{"a", "b", "c"}, models.Float(2)},
		{[]string{"c", "b"}, models.Float(3)},
		{[]string{"a"}, nil},
		{nil, nil},
	}
	for _, tt := range tests {
		got := firstFloat(obj, tt.keys)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("firstFloat(%v) = %v, want %v", tt.keys, got, tt.want)
		}
	}
}
