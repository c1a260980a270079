package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig
	Business  BusinessConfig
	Storage   StorageConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitBytes        int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig defines bearer token parameters for the admin API.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// WebhookConfig tunes the inbound webhook endpoint.
type WebhookConfig struct {
	SecretHeader       string
	MaxBodyBytes       int64
	MaxLogPayloadBytes int
	SecretHashCost     int
}

// SchedulerConfig controls the scheduled-ticket sweep.
type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	AutoStart       bool
	LockKey         string
	LockTTLSeconds  int
}

// BusinessConfig holds calendar settings used for display ids.
type BusinessConfig struct {
	Timezone string
}

// StorageConfig points at the attachment directory.
type StorageConfig struct {
	AttachmentDir string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitBytes:        getEnvAsInt("HTTP_BODY_LIMIT_BYTES", 4*1024*1024),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   os.Getenv("LOG_FILE_PATH"),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Webhook: WebhookConfig{
			SecretHeader:       getEnv("WEBHOOK_SECRET_HEADER", "x-webhook-secret"),
			MaxBodyBytes:       int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1024*1024)),
			MaxLogPayloadBytes: getEnvAsInt("WEBHOOK_MAX_LOG_PAYLOAD_BYTES", 64*1024),
			SecretHashCost:     getEnvAsInt("WEBHOOK_SECRET_HASH_COST", 10),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BatchSize:       getEnvAsInt("SCHEDULER_BATCH_SIZE", 100),
			AutoStart:       getEnvAsBool("SCHEDULER_AUTO_START", false),
			LockKey:         getEnv("SCHEDULER_LOCK_KEY", "helpdesk:scheduler:sweep"),
			LockTTLSeconds:  getEnvAsInt("SCHEDULER_LOCK_TTL_SECONDS", 55),
		},
		Business: BusinessConfig{
			Timezone: getEnv("BUSINESS_TIMEZONE", "America/Sao_Paulo"),
		},
		Storage: StorageConfig{
			AttachmentDir: getEnv("ATTACHMENT_DIR", "./data/attachments"),
		},
	}

	if cfg.Webhook.MaxLogPayloadBytes <= 0 {
		return nil, fmt.Errorf("WEBHOOK_MAX_LOG_PAYLOAD_BYTES must be positive")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	if cfg.Webhook.SecretHashCost < 4 || cfg.Webhook.SecretHashCost > 31 {
		return nil, fmt.Errorf("WEBHOOK_SECRET_HASH_COST must be between 4 and 31")
	}
	if _, err := time.LoadLocation(cfg.Business.Timezone); err != nil {
		return nil, fmt.Errorf("invalid BUSINESS_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the sweep period, never below one second.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LockTTL returns how long a sweeper holds the leader lock.
func (s SchedulerConfig) LockTTL() time.Duration {
	if s.LockTTLSeconds <= 0 {
		return s.Interval()
	}
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
