package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/monit-agro/monit-agro/internal/model"
)

// ValidationError reports a payload the normalizer could not turn into a
// Reading. It maps to a client error on the push path and is never retried.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + strings.Join(e.Issues, "; ")
}

// LabelRule routes a free-text farm label to a farm id when the label
// contains Marker (case-insensitive substring). The rule table is supplied
// through configuration so the heuristic can be replaced without a deploy
// of new code.
type LabelRule struct {
	Marker string
	FarmID string
}

// Hints carries call-context information into normalization: the poll path
// tags payloads with the polled device's farm and key, the push path with
// nothing.
type Hints struct {
	FarmID    string
	DeviceKey string
}

// Result is a normalized Reading plus the device network key extracted
// from the payload, when it carried one.
type Result struct {
	Reading   *model.Reading
	DeviceKey string
}

// Normalizer converts raw payloads into canonical Readings. It is pure:
// no network, no store, clock injected.
type Normalizer struct {
	Rules       []LabelRule
	DefaultFarm string
	Now         func() time.Time
}

func NewNormalizer(rules []LabelRule, defaultFarm string) *Normalizer {
	return &Normalizer{Rules: rules, DefaultFarm: defaultFarm, Now: time.Now}
}

// Normalize classifies raw and produces an observed Reading, or a
// ValidationError when no farm is resolvable.
func (n *Normalizer) Normalize(raw map[string]any, h Hints) (*Result, error) {
	shape := Classify(raw)

	farm := n.resolveFarm(raw, h)
	if farm == "" {
		issues := []string{"no farm resolvable"}
		if shape == ShapeUnknown {
			issues = append([]string{"unrecognized payload shape"}, issues...)
		}
		return nil, &ValidationError{Issues: issues}
	}

	r := &model.Reading{
		FarmID:     farm,
		TS:         n.resolveTS(raw),
		Aux:        model.AuxMap{},
		Provenance: model.ProvenanceObserved,
	}

	switch shape {
	case ShapeInstrument:
		applyMetrics(r, raw, topLevelRoutingKeys)
	case ShapeStructured:
		payload, _ := raw["payload"].(map[string]any)
		applyMetrics(r, payload, nil)
	default:
		// Unknown shape with an explicit farm: keep the body verbatim in
		// aux so nothing observed is lost.
		for k, v := range raw {
			if _, skip := topLevelRoutingKeys[k]; skip {
				continue
			}
			r.Aux[k] = v
		}
	}

	if len(r.Aux) == 0 {
		r.Aux = nil
	}

	res := &Result{Reading: r, DeviceKey: h.DeviceKey}
	if key, ok := asString(raw["deviceId"]); ok && key != "" {
		res.DeviceKey = key
	}
	return res, nil
}

// NormalizeStructured treats body as the structured shape's payload object.
// The poll path uses it: device responses are bare metric objects with no
// routing envelope.
func (n *Normalizer) NormalizeStructured(body map[string]any, h Hints) (*Result, error) {
	return n.Normalize(map[string]any{"payload": body}, h)
}

// topLevelRoutingKeys never land in aux: they address the reading, they are
// not part of it.
var topLevelRoutingKeys = map[string]struct{}{
	"farmId":    {},
	"deviceId":  {},
	"ts":        {},
	"timestamp": {},
	"finca":     {},
	"payload":   {},
}

// resolveFarm applies the documented precedence: explicit id in the
// payload, call-context hint, label rule table, configured default.
func (n *Normalizer) resolveFarm(raw map[string]any, h Hints) string {
	if id, ok := asString(raw["farmId"]); ok && id != "" {
		return id
	}
	if h.FarmID != "" {
		return h.FarmID
	}
	if label, ok := asString(raw["finca"]); ok && label != "" {
		l := strings.ToLower(strings.TrimSpace(label))
		for _, rule := range n.Rules {
			if rule.Marker != "" && strings.Contains(l, strings.ToLower(rule.Marker)) {
				return rule.FarmID
			}
		}
	}
	return n.DefaultFarm
}

func (n *Normalizer) resolveTS(raw map[string]any) time.Time {
	for _, key := range []string{"ts", "timestamp"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s, ok := asString(v); ok {
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, s); err == nil {
					return t
				}
			}
			continue
		}
		if t, ok := asEpoch(v); ok {
			return t
		}
	}
	return n.Now()
}

// asEpoch reads a numeric timestamp. Values of twelve digits or more are
// epoch milliseconds (what Date.now()-style firmware sends), smaller ones
// epoch seconds.
func asEpoch(v any) (time.Time, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		f = parsed
	default:
		return time.Time{}, false
	}
	if f <= 0 {
		return time.Time{}, false
	}
	if f >= 1e11 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// applyMetrics maps every known metric spelling in m onto its canonical
// column; everything else rides along in aux unchanged.
func applyMetrics(r *model.Reading, m map[string]any, skip map[string]struct{}) {
	for k, v := range m {
		if skip != nil {
			if _, s := skip[k]; s {
				continue
			}
		}
		if col, ok := metricKeys[k]; ok {
			if setMetric(r, col, v) {
				continue
			}
		}
		if _, ok := analysisKeys[k]; ok {
			if s, ok := asString(v); ok {
				r.Aux["analysis"] = s
				continue
			}
		}
		r.Aux[k] = v
	}
}

// setMetric coerces v into col. A value that does not coerce is left for
// the aux map rather than silently dropped.
func setMetric(r *model.Reading, col metric, v any) bool {
	switch col {
	case metricPump, metricSprinkler:
		b, ok := asBool(v)
		if !ok {
			return false
		}
		if col == metricPump {
			r.PumpOn = &b
		} else {
			r.SprinklerOn = &b
		}
		return true
	default:
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		switch col {
		case metricSoilMoisture:
			r.SoilMoisture = &f
		case metricSoilTemp:
			r.SoilTemp = &f
		case metricSoilPH:
			r.SoilPH = &f
		case metricLight:
			r.Light = &f
		case metricAirHumidity:
			r.AirHumidity = &f
		case metricAirTemp:
			r.AirTemp = &f
		}
		return true
	}
}
