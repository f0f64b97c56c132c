package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the gateway.
type Config struct {
	App        AppConfig
	API        APIConfig
	TokenStore TokenStoreConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Session    SessionConfig
	Routes     RoutesConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// APIConfig points at the remote POS REST API.
type APIConfig struct {
	BaseURL        string
	TimeoutSeconds int
	LoginPath      string
	RefreshPath    string
}

// TokenStoreConfig selects where tokens are persisted.
type TokenStoreConfig struct {
	Backend   string
	KeyPrefix string
}

// PostgresConfig holds DB connection values for the session audit trail.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
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
	Level string
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	SweepIntervalSeconds int
	RefreshAheadSeconds  int
}

// RoutesConfig holds the fixed navigation targets.
type RoutesConfig struct {
	Login     string
	Forbidden string
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "pos-gateway"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "127.0.0.1"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		API: APIConfig{
			BaseURL:        os.Getenv("API_BASE_URL"),
			TimeoutSeconds: getEnvAsInt("API_TIMEOUT_SECONDS", 15),
			LoginPath:      getEnv("API_LOGIN_PATH", "/auth/login"),
			RefreshPath:    getEnv("API_REFRESH_PATH", "/auth/refresh"),
		},
		TokenStore: TokenStoreConfig{
			Backend:   strings.ToLower(getEnv("TOKEN_STORE", StoreMemory)),
			KeyPrefix: getEnv("TOKEN_STORE_PREFIX", "pos:terminal:"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 4)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 1)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Session: SessionConfig{
			SweepIntervalSeconds: getEnvAsInt("SESSION_SWEEP_INTERVAL_SECONDS", 60),
			RefreshAheadSeconds:  getEnvAsInt("SESSION_REFRESH_AHEAD_SECONDS", 0),
		},
		Routes: RoutesConfig{
			Login:     getEnv("ROUTE_LOGIN", "/login"),
			Forbidden: getEnv("ROUTE_FORBIDDEN", "/forbidden"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.API.BaseURL)
	}
	switch c.TokenStore.Backend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("invalid TOKEN_STORE %q", c.TokenStore.Backend)
	}
	return nil
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

// Timeout returns the outbound request timeout.
func (a APIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// SweepInterval returns how often the session expiry is re-checked.
func (s SessionConfig) SweepInterval() time.Duration {
	if s.SweepIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// RefreshAhead returns the proactive refresh window; zero disables it.
func (s SessionConfig) RefreshAhead() time.Duration {
	if s.RefreshAheadSeconds <= 0 {
		return 0
	}
	return time.Duration(s.RefreshAheadSeconds) * time.Second
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
