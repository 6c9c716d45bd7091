// Package poller pulls readings from device-exposed endpoints on a fixed
// interval. Failures never leave the tick: an unreachable device is logged,
// counted and retried on the next tick.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
)

// Sensor is one configured poll target: an explicit URL for a network key,
// optionally pinned to a farm.
type Sensor struct {
	URL    string
	FarmID string
}

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration // per candidate
	Concurrency int
	Path        string // request path for derived candidate URLs
	Sensors     map[string]Sensor
	DefaultFarm string
}

// Devices is the registry surface the poller reads.
type Devices interface {
	ListDevices(ctx context.Context, activeOnly bool) ([]model.Device, error)
}

type Poller struct {
	cfg      Config
	devices  Devices
	ingestor *ingest.Ingestor
	client   *http.Client
}

func New(cfg Config, devices Devices, ingestor *ingest.Ingestor) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Path == "" {
		cfg.Path = "/datos"
	}
	return &Poller{
		cfg:      cfg,
		devices:  devices,
		ingestor: ingestor,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Start runs the tick loop until ctx is cancelled. Ticks are
// fire-and-forget: a slow tick never delays the next timer firing.
// Overlapping work per device is tolerated because writes are append-only.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log.Printf("poller: started, interval=%s targets=%d", p.cfg.Interval, len(p.cfg.Sensors))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go p.PollAll(ctx)
		}
	}
}

// target is one device to poll this tick with its ordered candidate URLs.
type target struct {
	key        string
	farm       string
	candidates []string
}

// PollAll polls every target concurrently under a bounded semaphore and
// returns when the tick's work is done. Tick latency is bounded by the
// slowest device's timeout chain, not the sum across devices.
func (p *Poller) PollAll(ctx context.Context) {
	targets := p.targets(ctx)

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(t target) {
			defer wg.Done()
			defer func() { <-sem }()
			p.pollOne(ctx, t)
		}(t)
	}
	wg.Wait()
}

// targets merges registered active devices with configured sensors that
// have never contacted the backend; without the merge a freshly configured
// device could never enter the registry through the pull path. Inactive
// registry rows suppress their configured sensor too: deactivation wins
// over configuration.
func (p *Poller) targets(ctx context.Context) []target {
	devs, err := p.devices.ListDevices(ctx, false)
	if err != nil {
		log.Printf("poller: list devices: %v", err)
	}

	seen := make(map[string]struct{}, len(devs))
	out := make([]target, 0, len(devs)+len(p.cfg.Sensors))
	for _, d := range devs {
		seen[d.NetworkKey] = struct{}{}
		if !d.Active {
			continue
		}
		out = append(out, p.deviceTarget(d))
	}
	for key, s := range p.cfg.Sensors {
		if _, ok := seen[key]; ok || s.URL == "" {
			continue
		}
		farm := s.FarmID
		if farm == "" {
			farm = p.cfg.DefaultFarm
		}
		out = append(out, target{key: key, farm: farm, candidates: []string{s.URL}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// deviceTarget builds the ordered candidate list for a registered device:
// the configured URL for its key (else the discovery-name URL), then the
// last known address as fallback.
func (p *Poller) deviceTarget(d model.Device) target {
	farm := d.FarmID
	var cands []string
	if s, ok := p.cfg.Sensors[d.NetworkKey]; ok {
		if s.URL != "" {
			cands = append(cands, s.URL)
		}
		if s.FarmID != "" {
			farm = s.FarmID
		}
	}
	if len(cands) == 0 && d.NetworkKey != "" {
		cands = append(cands, "http://"+d.NetworkKey+".local"+p.cfg.Path)
	}
	if d.LastAddr != "" {
		u := "http://" + d.LastAddr + p.cfg.Path
		if len(cands) == 0 || cands[0] != u {
			cands = append(cands, u)
		}
	}
	return target{key: d.NetworkKey, farm: farm, candidates: cands}
}

// pollOne tries the candidates strictly in order and stops on the first
// one that yields a persisted reading.
func (p *Poller) pollOne(ctx context.Context, t target) {
	for _, rawURL := range t.candidates {
		body, err := p.fetch(ctx, rawURL)
		if err != nil {
			metrics.PollFailures.WithLabelValues(failureReason(err)).Inc()
			log.Printf("poller: %s: %s: %v", t.key, rawURL, err)
			continue
		}
		payload, err := parseLenient(body)
		if err != nil {
			metrics.PollFailures.WithLabelValues("parse").Inc()
			log.Printf("poller: %s: %s: %v", t.key, rawURL, err)
			continue
		}
		if _, err := p.ingestor.IngestPolled(ctx, t.key, t.farm, hostOf(rawURL), payload); err != nil {
			// store trouble, not this candidate's fault; retried next tick
			metrics.PollFailures.WithLabelValues("store").Inc()
			log.Printf("poller: %s: persist: %v", t.key, err)
			return
		}
		log.Printf("poller: ok %s via %s", t.key, rawURL)
		return
	}
	metrics.PollExhausted.Inc()
	log.Printf("poller: %s: all candidates failed", t.key)
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

func failureReason(err error) string {
	var se *httpStatusError
	if errors.As(err, &se) {
		return "status"
	}
	return "network"
}

func (p *Poller) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

var jsonFragment = regexp.MustCompile(`\{[\s\S]*\}`)

// parseLenient accepts a JSON object directly, or extracts the first
// embedded {...} fragment from surrounding text (firmware likes to wrap
// its JSON in HTML or log noise).
func parseLenient(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil {
		return m, nil
	}
	if frag := jsonFragment.Find(b); frag != nil {
		if err := json.Unmarshal(frag, &m); err == nil {
			return m, nil
		}
	}
	return nil, errors.New("no JSON object in response body")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
