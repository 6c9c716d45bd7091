package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/monit-agro/monit-agro/internal/archive"
	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/poller"
)

type Config struct {
	Port          string
	DBPath        string
	SharedToken   string
	DefaultFarm   string
	DefaultDevice string
	LabelRules    []ingest.LabelRule

	PullEnabled     bool
	PullInterval    time.Duration
	PullTimeout     time.Duration
	PullConcurrency int
	PullPath        string
	Sensors         map[string]poller.Sensor

	SimEnabled    bool
	SimInterval   time.Duration
	SimStaleAfter time.Duration

	Influx archive.Config

	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string
	MQTTTopic    string
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			return dur
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		Port:          getenv("PORT", "4000"),
		DBPath:        getenv("DB_PATH", "monit-agro.db"),
		SharedToken:   getenv("INGEST_SHARED_TOKEN", ""),
		DefaultFarm:   getenv("FARM_ID_DEFAULT", "farm-a"),
		DefaultDevice: getenv("DEVICE_ID_DEFAULT", "esp32-a"),
		LabelRules:    parseLabelRules(getenv("LABEL_FARM_RULES", "b=farm-b")),

		PullEnabled:     getenvBool("PULL_ENABLED", false),
		PullInterval:    getenvDuration("PULL_INTERVAL", 6*time.Second),
		PullTimeout:     getenvDuration("PULL_TIMEOUT", 3*time.Second),
		PullConcurrency: getenvInt("PULL_CONCURRENCY", 8),
		PullPath:        getenv("PULL_PATH", "/datos"),
		Sensors:         parseSensors(os.Getenv("SENSORS")),

		SimEnabled:    getenvBool("SIM_ENABLED", true),
		SimInterval:   getenvDuration("SIM_INTERVAL", 30*time.Second),
		SimStaleAfter: getenvDuration("SIM_STALE_AFTER", 90*time.Second),

		Influx: archive.Config{
			URL:         getenv("INFLUX_URL", ""),
			Token:       getenv("INFLUX_TOKEN", ""),
			Org:         getenv("INFLUX_ORG", "monit-agro"),
			Bucket:      getenv("INFLUX_BUCKET", "readings"),
			Measurement: getenv("INFLUX_MEASUREMENT", "reading"),
		},

		MQTTHost:     getenv("MQTT_HOST", ""),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTUser:     getenv("MQTT_USER", ""),
		MQTTPassword: getenv("MQTT_PASS", ""),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "monit-agro-ingest"),
		MQTTTopic:    getenv("MQTT_TOPIC", "sensor/readings/#"),
	}
}

// parseSensors reads "key@http://host/path,key2@..." plus the optional
// SENSOR_FARM_<key> farm override per entry.
func parseSensors(s string) map[string]poller.Sensor {
	out := make(map[string]poller.Sensor)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, url, ok := strings.Cut(part, "@")
		key, url = strings.TrimSpace(key), strings.TrimSpace(url)
		if !ok || key == "" || url == "" {
			continue
		}
		out[key] = poller.Sensor{
			URL:    url,
			FarmID: strings.TrimSpace(os.Getenv("SENSOR_FARM_" + key)),
		}
	}
	return out
}

// parseLabelRules reads "marker=farmId,..." into the ordered rule table
// the normalizer resolves free-text farm labels with.
func parseLabelRules(s string) []ingest.LabelRule {
	var out []ingest.LabelRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		marker, farm, ok := strings.Cut(part, "=")
		marker, farm = strings.TrimSpace(marker), strings.TrimSpace(farm)
		if !ok || marker == "" || farm == "" {
			continue
		}
		out = append(out, ingest.LabelRule{Marker: marker, FarmID: farm})
	}
	return out
}
