package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/monit-agro/monit-agro/internal/api"
	"github.com/monit-agro/monit-agro/internal/archive"
	"github.com/monit-agro/monit-agro/internal/bridge"
	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
	"github.com/monit-agro/monit-agro/internal/poller"
	"github.com/monit-agro/monit-agro/internal/simulator"
	"github.com/monit-agro/monit-agro/internal/store"
	"github.com/monit-agro/monit-agro/pkg/mqttconn"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	if err := st.SeedFarms(ctx, []model.Farm{
		{Slug: "farm-a", Name: "Finca A"},
		{Slug: "farm-b", Name: "Finca B"},
	}); err != nil {
		log.Fatalf("seed farms failed: %v", err)
	}

	arch := archive.New(cfg.Influx)
	if arch != nil {
		log.Printf("archive: mirroring readings to %s/%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}

	ingestor := &ingest.Ingestor{
		Normalizer:       ingest.NewNormalizer(cfg.LabelRules, cfg.DefaultFarm),
		Registry:         st,
		Readings:         st,
		DefaultDeviceKey: cfg.DefaultDevice,
	}
	if arch != nil {
		ingestor.Archive = arch
	}

	var p *poller.Poller
	if cfg.PullEnabled {
		p = poller.New(poller.Config{
			Interval:    cfg.PullInterval,
			Timeout:     cfg.PullTimeout,
			Concurrency: cfg.PullConcurrency,
			Path:        cfg.PullPath,
			Sensors:     cfg.Sensors,
			DefaultFarm: cfg.DefaultFarm,
		}, st, ingestor)
		go p.Start(ctx)
	}

	if cfg.SimEnabled {
		var simArch simulator.Archiver
		if arch != nil {
			simArch = arch
		}
		sim := simulator.New(simulator.Config{
			Interval:   cfg.SimInterval,
			StaleAfter: cfg.SimStaleAfter,
		}, st, st, simArch)
		go sim.Start(ctx)
	}

	if cfg.MQTTHost != "" {
		client, err := mqttconn.Connect(ctx, mqttconn.Config{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			User:     cfg.MQTTUser,
			Password: cfg.MQTTPassword,
			ClientID: cfg.MQTTClientID,
		})
		if err != nil {
			log.Printf("mqtt bridge disabled: %v", err)
		} else {
			go bridge.New(mqttconn.NewConsumer(client, cfg.MQTTTopic), ingestor).Start(ctx)
		}
	}

	server := api.NewServer(st, ingestor, p, cfg.SharedToken, cfg.DefaultFarm)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metrics.Middleware(server.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	log.Println("server: shutdown complete")
}
