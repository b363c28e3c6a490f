package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleet-monitor/gps-poller/internal/config"
	"fleet-monitor/gps-poller/internal/gps51"
	"fleet-monitor/gps-poller/internal/normalize"
	"fleet-monitor/gps-poller/internal/notify"
	"fleet-monitor/gps-poller/internal/pipeline"
	"fleet-monitor/gps-poller/internal/session"
	"fleet-monitor/gps-poller/internal/store"
)

// app is the wired poller and the resources it owns.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *store.PostgresStore
	redis  *store.RedisStore
	kafka  *notify.KafkaPublisher
	trips  *pipeline.TripSync
	state  *pipeline.StateWriter
	poller *pipeline.Poller
}

// newApp connects the backing stores and builds the poller. With asyncState
// the Redis mirror goes through a StateWriter whose Run loop the caller
// starts.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, asyncState bool) (*app, error) {
	db, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, redis: rdb}

	publishers := notify.Multi{rdb}
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, a.kafka)
		log.Info("kafka_publisher_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var trips pipeline.TripScheduler
	if cfg.TripSyncURL != "" {
		a.trips = pipeline.NewTripSync(cfg.TripSyncURL, cfg.TripSyncQueueSize, time.Duration(cfg.TripSyncTimeoutMS)*time.Millisecond)
		trips = a.trips
	}

	var state pipeline.StateMirror = rdb
	if asyncState {
		a.state = pipeline.NewStateWriter(rdb, 8)
		state = a.state
	}

	vendor := gps51.NewClient(gps51.Config{
		BaseURL:       cfg.GPS51BaseURL,
		Username:      cfg.GPS51Username,
		Password:      cfg.GPS51Password,
		Timeout:       time.Duration(cfg.GPS51TimeoutMS) * time.Millisecond,
		RatePerSecond: cfg.GPS51RatePerSecond,
		Burst:         cfg.GPS51RateBurst,
		SessionTTL:    time.Duration(cfg.SessionTTLMinutes) * time.Minute,
	}, nil)
	tokens := session.NewManager(db, vendor, time.Duration(cfg.SessionMarginMinute)*time.Minute)

	t := cfg.Tuning
	normalizer := normalize.New(t.OfflineThreshold())
	normalizer.OverspeedKmh = t.OverspeedKmh
	normalizer.MovingKmh = t.MovingKmh

	thresholds := pipeline.DefaultThresholds()
	thresholds.OverspeedKmh = t.OverspeedKmh
	thresholds.MovingKmh = t.MovingKmh

	a.poller = pipeline.NewPoller(
		tokens,
		vendor,
		db,
		normalizer,
		pipeline.NewSampler(t.HistoryDistanceM, t.HistoryInterval()),
		pipeline.NewDetector(db, thresholds, t.EventCooldown()),
		pipeline.Options{
			Cache:      rdb,
			State:      state,
			Publisher:  publishers,
			Trips:      trips,
			ChunkSize:  t.WriteChunkSize,
			CacheTTL:   t.CacheTTL(),
			TripWindow: t.TripSyncWindow(),
		},
	)
	return a, nil
}

func (a *app) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn("kafka_close_failed", "error", err)
		}
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn("redis_close_failed", "error", err)
	}
	a.db.Close()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
