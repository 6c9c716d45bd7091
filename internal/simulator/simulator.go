// Package simulator keeps each farm's latest-reading stream alive while
// its devices are silent, by synthesizing provenance-tagged continuation
// readings from the last observed baseline.
package simulator

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
)

type Farms interface {
	ListFarms(ctx context.Context) ([]model.Farm, error)
}

type Readings interface {
	LatestReading(ctx context.Context, farmID string) (*model.Reading, error)
	CreateReading(ctx context.Context, r *model.Reading) error
}

type Archiver interface {
	Archive(ctx context.Context, r model.Reading)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type Simulator struct {
	cfg      Config
	farms    Farms
	readings Readings
	archive  Archiver // optional
	now      func() time.Time

	mu  sync.Mutex // rnd is not safe for concurrent ticks
	rnd *rand.Rand
}

func New(cfg Config, farms Farms, readings Readings, archive Archiver) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 90 * time.Second
	}
	return &Simulator{
		cfg:      cfg,
		farms:    farms,
		readings: readings,
		archive:  archive,
		now:      func() time.Time { return time.Now().UTC() },
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock replaces the clock and randomness source, for deterministic
// tests.
func (s *Simulator) WithClock(now func() time.Time, rnd *rand.Rand) *Simulator {
	s.now = now
	s.rnd = rnd
	return s
}

// Start runs the tick loop until ctx is cancelled. Ticks are fire-and-forget.
func (s *Simulator) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("sim: started, interval=%s stale-after=%s", s.cfg.Interval, s.cfg.StaleAfter)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.RunTick(ctx)
		}
	}
}

// RunTick evaluates every farm once. A failure for one farm is absorbed
// and must not stop the remaining farms.
func (s *Simulator) RunTick(ctx context.Context) {
	farms, err := s.farms.ListFarms(ctx)
	if err != nil {
		metrics.SimFailures.Inc()
		log.Printf("sim: list farms: %v", err)
		return
	}
	for _, f := range farms {
		if err := s.evaluate(ctx, f); err != nil {
			metrics.SimFailures.Inc()
			log.Printf("sim: farm %s: %v", f.ID, err)
		}
	}
}

// evaluate writes one simulated reading when the farm's stream is stale,
// nothing otherwise. A simulated reading counts as fresh, so a stale farm
// receives one continuation per staleness window, not one per tick.
func (s *Simulator) evaluate(ctx context.Context, f model.Farm) error {
	last, err := s.readings.LatestReading(ctx, f.ID)
	if err != nil {
		return err
	}
	if last != nil && s.now().Sub(last.TS) <= s.cfg.StaleAfter {
		return nil
	}

	r := s.synthesize(f.ID, last)
	if err := s.readings.CreateReading(ctx, r); err != nil {
		return err
	}
	if s.archive != nil {
		s.archive.Archive(ctx, *r)
	}
	metrics.ReadingsIngested.WithLabelValues("simulator").Inc()
	log.Printf("sim: wrote continuation for farm %s", f.ID)
	return nil
}

// Baselines when a farm has no reading at all, matching the ranges real
// devices report.
const (
	baseSoilMoisture = 32.0
	baseSoilTemp     = 26.0
	baseSoilPH       = 6.5
	baseLight        = 15000.0
	baseAirHumidity  = 60.0
	baseAirTemp      = 28.0

	flipProbability = 0.1
)

// synthesize perturbs each metric independently around the last reading
// (or the defaults) with bounded uniform noise, clamped to its physical
// domain.
func (s *Simulator) synthesize(farmID string, last *model.Reading) *model.Reading {
	if last == nil {
		last = &model.Reading{}
	}
	r := &model.Reading{
		FarmID:     farmID,
		TS:         s.now(),
		Provenance: model.ProvenanceSimulated,
		Aux: model.AuxMap{
			"note": fmt.Sprintf("simulated continuation: no data within %s", s.cfg.StaleAfter),
		},
	}
	r.SoilMoisture = s.perturb(last.SoilMoisture, baseSoilMoisture, 3.0, 0, 100)
	r.SoilTemp = s.perturb(last.SoilTemp, baseSoilTemp, 0.8, -5, 60)
	r.SoilPH = s.perturb(last.SoilPH, baseSoilPH, 0.15, 0, 14)
	r.Light = s.perturb(last.Light, baseLight, 1500, 0, 120000)
	r.AirHumidity = s.perturb(last.AirHumidity, baseAirHumidity, 4.0, 0, 100)
	r.AirTemp = s.perturb(last.AirTemp, baseAirTemp, 1.0, -20, 60)
	r.PumpOn = s.flip(last.PumpOn)
	r.SprinklerOn = s.flip(last.SprinklerOn)
	return r
}

func (s *Simulator) perturb(v *float64, def, mag, lo, hi float64) *float64 {
	base := def
	if v != nil {
		base = *v
	}
	out := clamp(base+(s.rand()*2-1)*mag, lo, hi)
	out = math.Round(out*10) / 10
	return &out
}

func (s *Simulator) flip(v *bool) *bool {
	cur := false
	if v != nil {
		cur = *v
	}
	if s.rand() < flipProbability {
		cur = !cur
	}
	return &cur
}

func (s *Simulator) rand() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
