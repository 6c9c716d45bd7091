package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Shape classifies a raw payload. Every consumer switches on the result
// instead of probing field presence on its own.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeInstrument is the flat legacy format using device-firmware
	// field names directly.
	ShapeInstrument
	// ShapeStructured carries a nested payload object plus optional
	// routing identifiers (farmId, deviceId, ts).
	ShapeStructured
)

// instrumentFields is the fixed set of legacy firmware field names whose
// presence marks the instrument shape.
var instrumentFields = map[string]struct{}{
	"temperatura":     {},
	"humedad_aire":    {},
	"humedad_suelo":   {},
	"finca":           {},
	"bomba_activa":    {},
	"modo_automatico": {},
	"potencia_bomba":  {},
	"umbral_min":      {},
	"umbral_max":      {},
	"analisis_ia":     {},
}

// Classify decides the payload shape. Instrument wins over structured:
// firmware that happens to nest extra data still speaks the legacy format.
func Classify(raw map[string]any) Shape {
	for k := range raw {
		if _, ok := instrumentFields[k]; ok {
			return ShapeInstrument
		}
	}
	if _, ok := raw["payload"].(map[string]any); ok {
		return ShapeStructured
	}
	return ShapeUnknown
}

// metric identifies a canonical Reading column.
type metric int

const (
	metricSoilMoisture metric = iota
	metricSoilTemp
	metricSoilPH
	metricLight
	metricAirHumidity
	metricAirTemp
	metricPump
	metricSprinkler
)

// metricKeys maps every known spelling of a metric, legacy or canonical,
// onto its column. Spellings outside this table ride along in the aux map.
var metricKeys = map[string]metric{
	"soil_moisture": metricSoilMoisture,
	"humedad_suelo": metricSoilMoisture,
	"humSuelo":      metricSoilMoisture,

	"soil_temp": metricSoilTemp,

	"soil_ph": metricSoilPH,

	"light": metricLight,

	"air_humidity": metricAirHumidity,
	"humedad_aire": metricAirHumidity,
	"humAir":       metricAirHumidity,

	"air_temp":    metricAirTemp,
	"temperatura": metricAirTemp,
	"temp":        metricAirTemp,

	"pump_status":  metricPump,
	"bomba_activa": metricPump,
	"bomba":        metricPump,

	"sprinkler_status": metricSprinkler,
}

// analysisKeys carry the free-text AI analysis blob into aux["analysis"].
var analysisKeys = map[string]struct{}{
	"analisis_ia": {},
	"analisisIA":  {},
	"analysis":    {},
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case json.Number:
		f, err := x.Float64()
		return f != 0, err == nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no":
			return false, true
		}
	}
	return false, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
