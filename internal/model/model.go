package model

import "time"

// Provenance marks how a Reading entered the stream.
type Provenance string

const (
	ProvenanceObserved  Provenance = "observed"
	ProvenanceSimulated Provenance = "simulated"
)

// Farm represents a monitored plot. Farms are created by seeding or an
// external admin surface; the ingest pipeline only references them.
type Farm struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Slug     string `gorm:"uniqueIndex" json:"slug"`
	Location string `json:"location,omitempty"`
}

// Device is a single sensor unit in the field. NetworkKey is the stable
// mDNS-style discovery name: unique across farms, it is both the registry
// key and the hostname the poller derives candidate URLs from.
type Device struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	NetworkKey string    `gorm:"uniqueIndex" json:"networkKey"`
	Name       string    `json:"name"`
	FarmID     string    `gorm:"index" json:"farmId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	LastAddr   string    `json:"lastAddr,omitempty"`
	Active     bool      `json:"active"`
}

// AuxMap carries payload fields that are not promoted to canonical columns
// (free-text analysis, history logs, unrecognized firmware fields).
type AuxMap map[string]any

// Reading is one normalized telemetry record. Canonical metrics are
// pointers: a payload that carries only one metric populates only that
// column. Readings are append-only; the core never updates or deletes them.
type Reading struct {
	ID       string    `gorm:"primaryKey" json:"id"`
	FarmID   string    `gorm:"index" json:"farmId"`
	DeviceID *string   `json:"deviceId,omitempty"`
	TS       time.Time `gorm:"index" json:"ts"`

	SoilMoisture *float64 `json:"soil_moisture,omitempty"` // %
	SoilTemp     *float64 `json:"soil_temp,omitempty"`     // °C
	SoilPH       *float64 `json:"soil_ph,omitempty"`
	Light        *float64 `json:"light,omitempty"` // lux
	AirHumidity  *float64 `json:"air_humidity,omitempty"` // %
	AirTemp      *float64 `json:"air_temp,omitempty"`     // °C
	PumpOn       *bool    `json:"pump_status,omitempty"`
	SprinklerOn  *bool    `json:"sprinkler_status,omitempty"`

	Aux        AuxMap     `gorm:"serializer:json" json:"aux,omitempty"`
	Provenance Provenance `gorm:"index" json:"provenance"`
}

// Task is a labor record (planting, irrigation, ...) attached to a farm.
type Task struct {
	ID     string    `gorm:"primaryKey" json:"id"`
	FarmID string    `gorm:"index" json:"farmId"`
	Type   string    `json:"type"`
	Cost   float64   `json:"cost"`
	Notes  string    `json:"notes,omitempty"`
	TS     time.Time `json:"ts"`
}
