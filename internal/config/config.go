package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the analysis backend.
type Config struct {
	Port string

	// Imagery provider (Sentinel Hub) OAuth client credentials.
	SentinelClientID     string
	SentinelClientSecret string

	// Generative model key. Empty disables narration; the pipeline still
	// returns numeric results.
	GoogleAPIKey string

	// Optional cache backing store, e.g. redis://localhost:6379/0.
	RedisURL string

	FetchTimeout   time.Duration
	NarrateTimeout time.Duration

	// Scene search tolerance around the requested date, in days.
	SearchWindowDays int
	// Maximum acceptable cloud coverage percentage for a scene.
	MaxCloudCover int

	CacheCapacity int
	CacheTTL      time.Duration

	// How long terminal tasks stay pollable before eviction.
	TaskRetention time.Duration

	// Largest accepted AOI span on either axis, in degrees.
	MaxExtentDegrees float64
}

// Load reads configuration from environment variables (optionally .env).
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := &Config{
		Port:             ":8080",
		FetchTimeout:     60 * time.Second,
		NarrateTimeout:   120 * time.Second,
		SearchWindowDays: 30,
		MaxCloudCover:    30,
		CacheCapacity:    256,
		CacheTTL:         time.Hour,
		TaskRetention:    time.Hour,
		MaxExtentDegrees: 5,
	}

	if port := os.Getenv("PORT"); port != "" {
		if port[0] != ':' {
			port = ":" + port
		}
		cfg.Port = port
	}

	cfg.SentinelClientID = os.Getenv("SH_CLIENT_ID")
	cfg.SentinelClientSecret = os.Getenv("SH_CLIENT_SECRET")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var err error
	if cfg.SearchWindowDays, err = intEnv("SEARCH_WINDOW_DAYS", cfg.SearchWindowDays); err != nil {
		return nil, err
	}
	if cfg.MaxCloudCover, err = intEnv("MAX_CLOUD_COVER", cfg.MaxCloudCover); err != nil {
		return nil, err
	}
	if cfg.CacheCapacity, err = intEnv("CACHE_CAPACITY", cfg.CacheCapacity); err != nil {
		return nil, err
	}

	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT_SECONDS", cfg.FetchTimeout); err != nil {
		return nil, err
	}
	if cfg.NarrateTimeout, err = durationEnv("NARRATE_TIMEOUT_SECONDS", cfg.NarrateTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL_SECONDS", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.TaskRetention, err = durationEnv("TASK_RETENTION_SECONDS", cfg.TaskRetention); err != nil {
		return nil, err
	}

	if raw := os.Getenv("MAX_EXTENT_DEGREES"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid MAX_EXTENT_DEGREES: %s", raw)
		}
		cfg.MaxExtentDegrees = v
	}

	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return v, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	secs, err := intEnv(name, int(fallback/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
