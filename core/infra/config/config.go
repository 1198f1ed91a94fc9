package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultNATSURL      = "nats://localhost:4222"
	defaultRedisURL     = "redis://localhost:6379"
	defaultScriptsDir   = "data/scripts"
	defaultMetricsAddr  = ":9105"
	defaultCacheSize    = 30
	defaultPollInterval = 10 * time.Second

	envNATSURL           = "NATS_URL"
	envRedisURL          = "REDIS_URL"
	envScriptsDir        = "SCRIPTS_DIR"
	envSeedPath          = "SEED_PATH"
	envMetricsAddr       = "METRICS_ADDR"
	envCacheSize         = "CACHE_SIZE"
	envPollInterval      = "SCHEDULER_POLL_INTERVAL"
	envPublishCategories = "PUBLISH_CATEGORIES"
)

// Config holds runtime configuration for the edge configuration service.
type Config struct {
	NatsURL     string
	RedisURL    string
	ScriptsDir  string
	SeedPath    string
	MetricsAddr string
	CacheSize   int
	// PollInterval is how often the scheduler looks for due schedules.
	PollInterval time.Duration
	// PublishCategories lists categories whose changes are forwarded to
	// the bus.
	PublishCategories []string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}
	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}
	scriptsDir := os.Getenv(envScriptsDir)
	if scriptsDir == "" {
		scriptsDir = defaultScriptsDir
	}
	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}

	cacheSize := defaultCacheSize
	if raw := os.Getenv(envCacheSize); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cacheSize = n
		}
	}
	poll := defaultPollInterval
	if raw := os.Getenv(envPollInterval); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			poll = d
		}
	}

	return &Config{
		NatsURL:           natsURL,
		RedisURL:          redisURL,
		ScriptsDir:        scriptsDir,
		SeedPath:          os.Getenv(envSeedPath),
		MetricsAddr:       metricsAddr,
		CacheSize:         cacheSize,
		PollInterval:      poll,
		PublishCategories: splitList(os.Getenv(envPublishCategories)),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
