package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shuttle-sim/internal/logging"
)

type Config struct {
	APIBaseURL string
	APITimeout time.Duration

	TickInterval time.Duration
	Staleness    time.Duration

	HTTPAddr    string
	MetricsAddr string
	RateLimit   int // requests per second per client, 0 disables
	LogLevel    slog.Level
	Location    *time.Location

	NATSURL         string // empty disables publishing
	LogNATSSubjects bool

	RedisURL    string // empty disables the stop name cache
	StopNameTTL time.Duration

	DatabaseURL string // empty disables trip history
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:  getenvDefault("API_BASE_URL", "http://localhost:5050"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	level, err := logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.APITimeout, err = positiveDuration("API_TIMEOUT_MS", 10000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = positiveDuration("TICK_INTERVAL_MS", 200, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Staleness, err = positiveDuration("STALENESS_SEC", 60, time.Second); err != nil {
		return nil, err
	}
	if cfg.StopNameTTL, err = positiveDuration("STOP_NAME_TTL_MIN", 1440, time.Minute); err != nil {
		return nil, err
	}

	cfg.RateLimit = 50
	if v := os.Getenv("RATE_LIMIT_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_SEC: %q", v)
		}
		cfg.RateLimit = n
	}

	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// History DSN: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		if name := os.Getenv("PGDATABASE"); name != "" {
			cfg.DatabaseURL = buildDSN(
				getenvDefault("PGUSER", "postgres"),
				os.Getenv("PGPASSWORD"),
				getenvDefault("PGHOST", "127.0.0.1"),
				getenvDefault("PGPORT", "5432"),
				name,
				getenvDefault("PGSSLMODE", "disable"),
			)
		}
	}

	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func positiveDuration(key string, def int, unit time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * unit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * unit, nil
}

func buildDSN(user, pass, host, port, name, sslmode string) string {
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, name, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, name, sslmode)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	r := strings.NewReplacer("%", "%25", "@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
