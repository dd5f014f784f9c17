package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenantcore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TENANTCORE_PORT")
	setString(&cfg.Server.CORSOrigin, "TENANTCORE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TENANTCORE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TENANTCORE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TENANTCORE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TENANTCORE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TENANTCORE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TENANTCORE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANTCORE_LOG_SERVICE")
	setInt64(&cfg.Cache.MaxSizeMB, "TENANTCORE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.MembershipTTL, "TENANTCORE_CACHE_MEMBERSHIP_TTL")
	setInt(&cfg.Audit.RetentionDays, "TENANTCORE_AUDIT_RETENTION_DAYS")
	setDuration(&cfg.Audit.CleanupInterval, "TENANTCORE_AUDIT_CLEANUP_INTERVAL")
	setInt(&cfg.Sync.MaxRetries, "TENANTCORE_SYNC_MAX_RETRIES")
	setDuration(&cfg.Sync.BackoffBase, "TENANTCORE_SYNC_BACKOFF_BASE")
	setDuration(&cfg.Sync.BackoffMax, "TENANTCORE_SYNC_BACKOFF_MAX")
	setInt(&cfg.Sync.WorkerParallel, "TENANTCORE_SYNC_WORKER_PARALLEL")
	setInt(&cfg.Sync.LogRetentionDays, "TENANTCORE_SYNC_LOG_RETENTION_DAYS")
	setInt(&cfg.Auth.BcryptCost, "TENANTCORE_BCRYPT_COST")
	setBool(&cfg.Otel.Enabled, "TENANTCORE_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and bounds hold.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be at least 1")
	}
	if cfg.Audit.RetentionDays < 1 {
		return errors.New("audit.retention_days must be at least 1")
	}
	if cfg.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must be non-negative")
	}
	if cfg.Sync.WorkerParallel < 1 {
		return errors.New("sync.worker_parallel must be at least 1")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return errors.New("auth.bcrypt_cost must be between 4 and 31")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
