package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP trigger
	HTTPPort     string
	PollSchedule string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka (optional event stream)
	KafkaBrokers []string
	KafkaTopic   string

	// GPS51 vendor
	GPS51BaseURL        string
	GPS51Username       string
	GPS51Password       string
	GPS51TimeoutMS      int
	GPS51RatePerSecond  float64
	GPS51RateBurst      int
	SessionTTLMinutes   int
	SessionMarginMinute int

	// Trip sync
	TripSyncURL       string
	TripSyncQueueSize int
	TripSyncTimeoutMS int

	// Trigger auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	Tuning Tuning
}

// Tuning holds the detection and sampling knobs. It can be overridden from a
// YAML file pointed to by CONFIG_FILE.
type Tuning struct {
	OfflineThresholdMS   int64   `yaml:"offline_threshold_ms"`
	HistoryDistanceM     float64 `yaml:"history_distance_m"`
	HistoryIntervalSec   int     `yaml:"history_interval_sec"`
	EventCooldownMinutes int     `yaml:"event_cooldown_minutes"`
	OverspeedKmh         float64 `yaml:"overspeed_kmh"`
	MovingKmh            float64 `yaml:"moving_kmh"`
	WriteChunkSize       int     `yaml:"write_chunk_size"`
	CacheTTLSeconds      int     `yaml:"cache_ttl_seconds"`
	TripSyncWindowHours  int     `yaml:"trip_sync_window_hours"`
}

func DefaultTuning() Tuning {
	return Tuning{
		OfflineThresholdMS:   600_000,
		HistoryDistanceM:     50,
		HistoryIntervalSec:   300,
		EventCooldownMinutes: 30,
		OverspeedKmh:         120,
		MovingKmh:            5,
		WriteChunkSize:       50,
		CacheTTLSeconds:      30,
		TripSyncWindowHours:  24,
	}
}

// Load reads the environment (and .env when present), then applies the
// optional YAML tuning overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8001"),
		PollSchedule:        getEnv("POLL_SCHEDULE", "@every 30s"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "fleet_user"),
		DBPassword:          getEnv("DB_PASSWORD", "fleet_password"),
		DBName:              getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "proactive-events"),
		GPS51BaseURL:        getEnv("GPS51_BASE_URL", "https://api.gps51.com/openapi"),
		GPS51Username:       getEnv("GPS51_USERNAME", ""),
		GPS51Password:       getEnv("GPS51_PASSWORD", ""),
		GPS51TimeoutMS:      getEnvInt("GPS51_TIMEOUT_MS", 15000),
		GPS51RatePerSecond:  getEnvFloat("GPS51_RATE_PER_SECOND", 2),
		GPS51RateBurst:      getEnvInt("GPS51_RATE_BURST", 4),
		SessionTTLMinutes:   getEnvInt("GPS51_SESSION_TTL_MINUTES", 23*60),
		SessionMarginMinute: getEnvInt("GPS51_SESSION_MARGIN_MINUTES", 5),
		TripSyncURL:         getEnv("TRIP_SYNC_URL", ""),
		TripSyncQueueSize:   getEnvInt("TRIP_SYNC_QUEUE_SIZE", 100),
		TripSyncTimeoutMS:   getEnvInt("TRIP_SYNC_TIMEOUT_MS", 10000),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        splitList(getEnv("VALID_API_KEYS", "")),
		Tuning:              DefaultTuning(),
	}

	cfg.Tuning.OfflineThresholdMS = int64(getEnvInt("OFFLINE_THRESHOLD_MS", int(cfg.Tuning.OfflineThresholdMS)))

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the tuning block from a YAML file. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var file struct {
		Tuning Tuning `yaml:"tuning"`
	}
	file.Tuning = c.Tuning
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Tuning = file.Tuning
	return nil
}

func (c *Config) Validate() error {
	if c.GPS51BaseURL == "" {
		return fmt.Errorf("GPS51_BASE_URL is required")
	}
	t := c.Tuning
	if t.OfflineThresholdMS <= 0 {
		return fmt.Errorf("offline_threshold_ms must be positive, got %d", t.OfflineThresholdMS)
	}
	if t.HistoryDistanceM <= 0 || t.HistoryIntervalSec <= 0 {
		return fmt.Errorf("history thresholds must be positive")
	}
	if t.EventCooldownMinutes < 0 {
		return fmt.Errorf("event_cooldown_minutes must not be negative")
	}
	if t.WriteChunkSize <= 0 {
		return fmt.Errorf("write_chunk_size must be positive, got %d", t.WriteChunkSize)
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func (t Tuning) OfflineThreshold() time.Duration {
	return time.Duration(t.OfflineThresholdMS) * time.Millisecond
}

func (t Tuning) HistoryInterval() time.Duration {
	return time.Duration(t.HistoryIntervalSec) * time.Second
}

func (t Tuning) EventCooldown() time.Duration {
	return time.Duration(t.EventCooldownMinutes) * time.Minute
}

func (t Tuning) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

func (t Tuning) TripSyncWindow() time.Duration {
	return time.Duration(t.TripSyncWindowHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
