package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/gps-poller/internal/config"
	"fleet-monitor/gps-poller/internal/domain"
)

const (
	EventsChannel = "gps51:events"
	GeoKey        = "gps51:geo"

	stateTTL = 24 * time.Hour
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func cacheKey(action string) string {
	return "gps51:cache:" + action
}

func stateKey(deviceID string) string {
	return "gps51:device:" + deviceID + ":state"
}

// CachedResult returns the cached payload for action, if any.
func (r *RedisStore) CachedResult(ctx context.Context, action string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, cacheKey(action)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get cached %s: %w", action, err)
	}
	return val, true, nil
}

func (r *RedisStore) CacheResult(ctx context.Context, action string, payload []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, cacheKey(action), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set cached %s: %w", action, err)
	}
	return nil
}

// PushState mirrors the current positions into per-device hashes and the
// fleet geo set in one round trip.
func (r *RedisStore) PushState(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, p := range positions {
		state := map[string]any{
			"device_id":  p.DeviceID,
			"speed_kmh":  p.SpeedKmh,
			"heading":    p.Heading,
			"is_online":  p.IsOnline,
			"overspeed":  p.IsOverspeeding,
			"ign_method": string(p.IgnitionMethod),
			"ign_conf":   p.IgnitionConfidence,
		}
		if p.IgnitionOn != nil {
			state["ignition_on"] = *p.IgnitionOn
		}
		if p.BatteryPct != nil {
			state["battery_pct"] = *p.BatteryPct
		}
		if p.LastUpdate != nil {
			state["last_update"] = p.LastUpdate.Unix()
		}

		key := stateKey(p.DeviceID)
		pipe.HSet(ctx, key, state)
		pipe.Expire(ctx, key, stateTTL)

		if p.HasCoordinates() {
			pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
				Name:      p.DeviceID,
				Longitude: *p.Lon,
				Latitude:  *p.Lat,
			})
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis state pipeline failed: %w", err)
	}
	return nil
}

// PublishEvents fans inserted events out on the events channel.
func (r *RedisStore) PublishEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		pipe.Publish(ctx, EventsChannel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// GetAPIKey returns the owner recorded for a trigger key, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("poller:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
