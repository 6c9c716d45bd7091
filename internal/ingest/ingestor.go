package ingest

import (
	"context"
	"time"

	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
)

// Registry is the device registry surface the pipeline needs.
type Registry interface {
	UpsertDevice(ctx context.Context, networkKey, name, farmID string, contact time.Time, addr string) (*model.Device, error)
}

// Readings is the append-only reading store surface.
type Readings interface {
	CreateReading(ctx context.Context, r *model.Reading) error
}

// Archiver mirrors persisted readings to the time-series archive.
// Implementations absorb their own failures.
type Archiver interface {
	Archive(ctx context.Context, r model.Reading)
}

// Ingestor is the pipeline shared by all ingestion paths:
// normalize, upsert the device, persist the reading, mirror it.
type Ingestor struct {
	Normalizer       *Normalizer
	Registry         Registry
	Readings         Readings
	Archive          Archiver // optional
	DefaultDeviceKey string
	Now              func() time.Time
}

// IngestPush runs an untyped pushed body through the pipeline. source is
// the metrics label ("push", "mqtt"). On ValidationError nothing is
// persisted and no device is touched.
func (i *Ingestor) IngestPush(ctx context.Context, raw map[string]any, source string) (*model.Reading, error) {
	res, err := i.Normalizer.Normalize(raw, Hints{})
	if err != nil {
		return nil, err
	}

	key := res.DeviceKey
	if key == "" {
		key = i.DefaultDeviceKey
	}
	return i.persist(ctx, res.Reading, key, "", source)
}

// IngestPolled runs a polled response body (always the structured shape)
// through the pipeline, recording the address that answered.
func (i *Ingestor) IngestPolled(ctx context.Context, networkKey, farmID, addr string, body map[string]any) (*model.Reading, error) {
	res, err := i.Normalizer.NormalizeStructured(body, Hints{FarmID: farmID, DeviceKey: networkKey})
	if err != nil {
		return nil, err
	}
	return i.persist(ctx, res.Reading, networkKey, addr, "poll")
}

func (i *Ingestor) persist(ctx context.Context, r *model.Reading, deviceKey, addr, source string) (*model.Reading, error) {
	if deviceKey != "" {
		dev, err := i.Registry.UpsertDevice(ctx, deviceKey, deviceKey, r.FarmID, i.now(), addr)
		if err != nil {
			return nil, err
		}
		r.DeviceID = &dev.ID
	}
	if err := i.Readings.CreateReading(ctx, r); err != nil {
		return nil, err
	}
	if i.Archive != nil {
		i.Archive.Archive(ctx, *r)
	}
	metrics.ReadingsIngested.WithLabelValues(source).Inc()
	return r, nil
}

func (i *Ingestor) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now().UTC()
}
