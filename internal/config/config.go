// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read.
type Config struct {
	Addr            string
	PostgresDSN     string
	CacheTTL        time.Duration
	RequireIdentity bool
	AuthSecret      string
	RateBurst       int
	RatePerSec      float64
	MaxBodyBytes    int64
	AMQPURL         string
	EventsQueue     string
	APIBaseURL      string
}

// LoadDotenv reads the given files (".env" when none) into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from TURF_* variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:        envStr("TURF_ADDR", ":8080"),
		PostgresDSN: envStr("TURF_PG_DSN", ""),
		AuthSecret:  envStr("TURF_AUTH_SECRET", ""),
		AMQPURL:     envStr("TURF_AMQP_URL", ""),
		EventsQueue: envStr("TURF_EVENTS_QUEUE", "turfboard.events"),
		APIBaseURL:  envStr("TURF_API_URL", "http://localhost:8080"),
	}
	var err error
	if cfg.CacheTTL, err = envDur("TURF_CACHE_TTL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequireIdentity, err = envBool("TURF_REQUIRE_IDENTITY", false); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("TURF_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = envFloat("TURF_RATE_PER_SEC", 10); err != nil {
		return Config{}, err
	}
	maxBody, err := envInt("TURF_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("TURF_CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	return cfg, nil
}

// Load is LoadDotenv followed by FromEnv.
func Load(paths ...string) (Config, error) {
	if err := LoadDotenv(paths...); err != nil {
		return Config{}, err
	}
	return FromEnv()
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := envStr(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := envStr(key, "")
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// envDur accepts Go durations ("5s") or plain milliseconds ("5000").
func envDur(key string, def time.Duration) (time.Duration, error) {
	raw := envStr(key, "")
	if raw == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := envStr(key, "")
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
