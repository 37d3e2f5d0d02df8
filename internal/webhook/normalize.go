package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/observability"
)

var (
	errEmptyPayload      = errors.New("empty payload array")
	errUnexpectedPayload = errors.New("unexpected payload type")
)

// numericField describes one canonical reading: the upstream keys accepted
// for it, in priority order, and its plausible range.
type numericField struct {
	name    string
	sources []string
	min     float64
	max     float64
	set     func(*models.PlantRecord, *float64)
}

var numericFields = []numericField{
	{
		name:    "soil_moisture",
		sources: []string{"soil_moisture", "moisture"},
		min:     0, max: 100,
		set: func(r *models.PlantRecord, v *float64) { r.SoilMoisture = v },
	},
	{
		name:    "air_temperature",
		sources: []string{"air_temperature", "temperature"},
		min:     -50, max: 100,
		set: func(r *models.PlantRecord, v *float64) { r.AirTemperature = v },
	},
	{
		name:    "air_humidity",
		sources: []string{"air_humidity", "humidity"},
		min:     0, max: 100,
		set: func(r *models.PlantRecord, v *float64) { r.AirHumidity = v },
	},
	{
		name:    "illuminance",
		sources: []string{"light", "illuminance"},
		min:     0, max: math.Inf(1),
		set: func(r *models.PlantRecord, v *float64) { r.Illuminance = v },
	},
	{
		name:    "fertilizer",
		sources: []string{"fertilizer", "conductivity"},
		min:     0, max: math.Inf(1),
		set: func(r *models.PlantRecord, v *float64) { r.Fertilizer = v },
	},
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Normalizer maps raw payloads onto PlantRecord. It holds no state besides
// its logger and clock, so the same input always yields the same record.
type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer returns a Normalizer. A nil clock uses time.Now.
func NewNormalizer(logger *zap.Logger, now func() time.Time) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, now: now}
}

// Normalize builds a record for plantID from a decoded JSON value. It never
// fails: payloads it cannot interpret produce a record with no readings.
func (n *Normalizer) Normalize(raw any, plantID string) (rec models.PlantRecord) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("normalize panicked, using fallback record",
				zap.String("plant_id", plantID),
				zap.Any("panic", r),
			)
			rec = n.fallback(plantID)
		}
	}()

	obj, err := payloadObject(raw)
	if err != nil {
		n.logger.Error("cannot normalize plant payload, using fallback record",
			zap.String("plant_id", plantID),
			zap.Error(err),
		)
		return n.fallback(plantID)
	}

	rec = models.PlantRecord{
		PlantID:    plantID,
		PlantName:  nameOf(obj, plantID),
		LastUpdate: n.timestamp(obj),
	}
	for _, f := range numericFields {
		f.set(&rec, firstFloat(obj, f.sources))
	}
	n.validate(rec)
	return rec
}

// NormalizeJSON decodes body and normalizes it. Only undecodable JSON is an
// error; decodable payloads of the wrong shape yield a fallback record.
func (n *Normalizer) NormalizeJSON(body []byte, plantID string) (models.PlantRecord, error) {
	var raw any
	if err := decodeJSON(body, &raw); err != nil {
		return models.PlantRecord{}, err
	}
	return n.Normalize(raw, plantID), nil
}

func (n *Normalizer) fallback(plantID string) models.PlantRecord {
	return models.Placeholder(plantID, plantID, n.now())
}

func (n *Normalizer) timestamp(obj map[string]any) time.Time {
	if s, ok := obj["last_updated"].(string); ok {
		if t, ok := parseTimestamp(s); ok {
			return t
		}
	}
	return n.now()
}

// validate logs readings outside their plausible range. Values are kept.
func (n *Normalizer) validate(rec models.PlantRecord) {
	values := map[string]*float64{
		"soil_moisture":   rec.SoilMoisture,
		"air_temperature": rec.AirTemperature,
		"air_humidity":    rec.AirHumidity,
		"illuminance":     rec.Illuminance,
		"fertilizer":      rec.Fertilizer,
	}
	for _, f := range numericFields {
		v := values[f.name]
		if v == nil || (*v >= f.min && *v <= f.max) {
			continue
		}
		observability.OutOfRangeTotal.WithLabelValues(f.name).Inc()
		n.logger.Warn("reading out of range",
			zap.String("plant_id", rec.PlantID),
			zap.String("field", f.name),
			zap.Float64("value", *v),
			zap.Float64("min", f.min),
			zap.Float64("max", f.max),
		)
	}
}

// payloadObject unwraps a single result that the API may return bare or
// wrapped in an array.
func payloadObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, errEmptyPayload
		}
		if obj, ok := v[0].(map[string]any); ok {
			return obj, nil
		}
		return nil, fmt.Errorf("%w: array of %T", errUnexpectedPayload, v[0])
	default:
		return nil, fmt.Errorf("%w: %T", errUnexpectedPayload, raw)
	}
}

func nameOf(obj map[string]any, plantID string) string {
	if s, ok := obj["name"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return plantID
}

// firstFloat returns the first key in keys whose value parses as a finite
// float, or nil.
func firstFloat(obj map[string]any, keys []string) *float64 {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
