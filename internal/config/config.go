// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Snapshot store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds the engine configuration.
type Config struct {
	MetaDBPath      string // path to the SQLite metastore (history + lineage)
	SnapshotBackend string // "sqlite" (default) or "badger"
	BadgerPath      string // badger directory; empty means in-memory
	LogLevel        string // log level: debug, info, warn, error (default "info")
	Env             string // environment: "development" (default) or "production"
	MetricsAddr     string // listen address of `serve` (default ":9090")

	// HTTP API of `serve`
	HTTPRateLimitRPS   float64 // requests per second per client; 0 = unlimited
	HTTPRateLimitBurst int     // bucket size (default: max(rps, 1))

	// Lineage and impact analysis
	LineageCacheTTL       time.Duration // 0 = re-fetch on every evaluation
	ImpactMaxDepth        int           // 0 = unlimited
	ImpactDampenAfterHops int           // 0 = no dampening

	// Orchestrator
	EvaluationTimeout     time.Duration // per-evaluation deadline (default 30s)
	ConcurrencyRetryAfter time.Duration // backoff suggested to rejected callers (default 1s)
	BatchWorkers          int           // batch worker pool size (default 8)
	BatchRateLimitRPS     float64       // evaluations started per second in a batch; 0 = unlimited

	// Versioning
	CloudVersionPrefix  string // label prefix of the cloud version counter (default "S-")
	InitialCloudVersion int64  // cloud version of a dataset's first snapshot (default 1)

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// UsesBadger reports whether snapshots are kept in the badger store.
func (c *Config) UsesBadger() bool {
	return c.SnapshotBackend == BackendBadger
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:          os.Getenv("META_DB_PATH"),
		SnapshotBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("SNAPSHOT_BACKEND"))),
		BadgerPath:          os.Getenv("BADGER_PATH"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		Env:                 os.Getenv("ENV"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		CloudVersionPrefix:  os.Getenv("CLOUD_VERSION_PREFIX"),
		InitialCloudVersion: 1,
	}

	cfg.LineageCacheTTL = cfg.durationEnv("LINEAGE_CACHE_TTL", 0)
	cfg.ImpactMaxDepth = cfg.intEnv("IMPACT_MAX_DEPTH", 0)
	cfg.ImpactDampenAfterHops = cfg.intEnv("IMPACT_DAMPEN_AFTER_HOPS", 0)
	cfg.EvaluationTimeout = cfg.durationEnv("EVALUATION_TIMEOUT", 30*time.Second)
	cfg.ConcurrencyRetryAfter = cfg.durationEnv("CONCURRENCY_RETRY_AFTER", time.Second)
	cfg.BatchWorkers = cfg.intEnv("BATCH_WORKERS", 8)

	if v := os.Getenv("BATCH_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.BatchRateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid BATCH_RATE_LIMIT_RPS %q", v))
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.HTTPRateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid HTTP_RATE_LIMIT_RPS %q", v))
		}
	}
	cfg.HTTPRateLimitBurst = cfg.intEnv("HTTP_RATE_LIMIT_BURST", 0)
	if v := os.Getenv("INITIAL_CLOUD_VERSION"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.InitialCloudVersion = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid INITIAL_CLOUD_VERSION %q", v))
		}
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "schemaevo_meta.sqlite"
	}
	if cfg.SnapshotBackend == "" {
		cfg.SnapshotBackend = BackendSQLite
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.CloudVersionPrefix == "" {
		cfg.CloudVersionPrefix = "S-"
	}
	if cfg.BatchWorkers <= 0 {
		cfg.Warnings = append(cfg.Warnings, "BATCH_WORKERS must be positive, using 8")
		cfg.BatchWorkers = 8
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.Warnings = append(cfg.Warnings, "EVALUATION_TIMEOUT must be positive, using 30s")
		cfg.EvaluationTimeout = 30 * time.Second
	}

	switch cfg.SnapshotBackend {
	case BackendSQLite:
	case BackendBadger:
		if cfg.BadgerPath == "" {
			cfg.Warnings = append(cfg.Warnings, "BADGER_PATH not set, snapshot history is kept in memory and lost on exit")
		}
	default:
		return nil, fmt.Errorf("unknown SNAPSHOT_BACKEND %q (want %q or %q)", cfg.SnapshotBackend, BackendSQLite, BackendBadger)
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.UsesBadger() && cfg.BadgerPath == "" {
			return nil, fmt.Errorf("BADGER_PATH must be set in production when SNAPSHOT_BACKEND=badger")
		}
	}

	return cfg, nil
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return def
	}
	return d
}

func (c *Config) intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return def
	}
	return n
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
