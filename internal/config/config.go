package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Engine    EngineConfig
	Render    RenderConfig
	R2        R2Config
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

// StoreConfig selects the job store backend: "memory", "redis" or "postgres".
type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN string
}

type EngineConfig struct {
	WorkerSlots   int
	PollInterval  time.Duration
	CancelTimeout time.Duration
	MaxRetries    int
	RetentionDays int
	ReapSchedule  string
}

type RenderConfig struct {
	ServiceURL   string
	Timeout      int // seconds
	PollInterval time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type RateLimitConfig struct {
	ExportsPerHour int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("store.backend", "STORE_BACKEND")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("engine.worker_slots", "ENGINE_WORKER_SLOTS")
	_ = viper.BindEnv("engine.poll_interval", "ENGINE_POLL_INTERVAL")
	_ = viper.BindEnv("engine.cancel_timeout", "ENGINE_CANCEL_TIMEOUT")
	_ = viper.BindEnv("engine.max_retries", "ENGINE_MAX_RETRIES")
	_ = viper.BindEnv("engine.retention_days", "ENGINE_RETENTION_DAYS")
	_ = viper.BindEnv("engine.reap_schedule", "ENGINE_REAP_SCHEDULE")
	_ = viper.BindEnv("render.service_url", "RENDER_SERVICE_URL")
	_ = viper.BindEnv("render.timeout", "RENDER_SERVICE_TIMEOUT")
	_ = viper.BindEnv("render.poll_interval", "RENDER_POLL_INTERVAL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("ratelimit.exports_per_hour", "RATELIMIT_EXPORTS_PER_HOUR")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("engine.worker_slots", 1)
	viper.SetDefault("engine.poll_interval", "1s")
	viper.SetDefault("engine.cancel_timeout", "5s")
	viper.SetDefault("engine.max_retries", 3)
	viper.SetDefault("engine.retention_days", 30)
	viper.SetDefault("engine.reap_schedule", "@every 1h")
	viper.SetDefault("render.timeout", 120)
	viper.SetDefault("render.poll_interval", "2s")
	viper.SetDefault("ratelimit.exports_per_hour", 20)
	viper.SetDefault("gateway.enabled", true)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Store: StoreConfig{
			Backend: viper.GetString("store.backend"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN: viper.GetString("postgres.dsn"),
		},
		Engine: EngineConfig{
			WorkerSlots:   viper.GetInt("engine.worker_slots"),
			PollInterval:  viper.GetDuration("engine.poll_interval"),
			CancelTimeout: viper.GetDuration("engine.cancel_timeout"),
			MaxRetries:    viper.GetInt("engine.max_retries"),
			RetentionDays: viper.GetInt("engine.retention_days"),
			ReapSchedule:  viper.GetString("engine.reap_schedule"),
		},
		Render: RenderConfig{
			ServiceURL:   viper.GetString("render.service_url"),
			Timeout:      viper.GetInt("render.timeout"),
			PollInterval: viper.GetDuration("render.poll_interval"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		RateLimit: RateLimitConfig{
			ExportsPerHour: viper.GetInt("ratelimit.exports_per_hour"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
