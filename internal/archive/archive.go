// Package archive mirrors the reading stream into InfluxDB. The relational
// store stays authoritative; a down or slow Influx must never slow down or
// fail ingestion, so writes go through a circuit breaker and errors are
// only counted and logged.
package archive

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
)

type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type Archiver struct {
	writeAPI    api.WriteAPIBlocking
	breaker     *gobreaker.CircuitBreaker
	measurement string
}

// New builds an archiver over a blocking Influx write API. Returns nil when
// the config is incomplete; callers treat a nil archiver as "mirroring off".
func New(cfg Config) *Archiver {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "reading"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Archiver{
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "influx-archive",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Archive writes one reading as a point. Failures are absorbed.
func (a *Archiver) Archive(ctx context.Context, r model.Reading) {
	if a == nil {
		return
	}
	point := readingToPoint(a.measurement, r)
	_, err := a.breaker.Execute(func() (any, error) {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return nil, a.writeAPI.WritePoint(wctx, point)
	})
	if err != nil {
		metrics.ArchiveErrors.Inc()
		log.Printf("archive: write error: %v", err)
	}
}

// readingToPoint normalizes a Reading into an Influx point: routing and
// provenance as tags, the non-null canonical metrics as fields.
func readingToPoint(measurement string, r model.Reading) *write.Point {
	tags := map[string]string{
		"farm_id":    r.FarmID,
		"provenance": string(r.Provenance),
	}
	if r.DeviceID != nil {
		tags["device_id"] = *r.DeviceID
	}

	fields := map[string]any{}
	addF := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	addB := func(name string, v *bool) {
		if v != nil {
			fields[name] = *v
		}
	}
	addF("soil_moisture", r.SoilMoisture)
	addF("soil_temp", r.SoilTemp)
	addF("soil_ph", r.SoilPH)
	addF("light", r.Light)
	addF("air_humidity", r.AirHumidity)
	addF("air_temp", r.AirTemp)
	addB("pump_status", r.PumpOn)
	addB("sprinkler_status", r.SprinklerOn)

	// at least one field so the point is never empty
	if len(fields) == 0 {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint(measurement, tags, fields, r.TS)
}
