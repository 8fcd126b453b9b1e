package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	Bonus     BonusConfig     `toml:"bonus"`
	ImageGen  ImageGenConfig  `toml:"imagegen"`
	Blob      BlobConfig      `toml:"blob"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Worker    WorkerConfig    `toml:"worker"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port            int           `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	DBName      string `toml:"dbname"`
	SSLMode     string `toml:"sslmode"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// StoreConfig selects the repository implementation
type StoreConfig struct {
	Driver        string        `toml:"driver"`
	MaxTxAttempts int           `toml:"max_tx_attempts"`
	TxBackoff     time.Duration `toml:"tx_backoff"`
}

// RedisConfig holds the event stream connection
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
	Group    string `toml:"group"`
	Consumer string `toml:"consumer"`

	// ClaimMinIdle is how long an entry must sit unacknowledged with another
	// consumer of the group before this worker takes it over
	ClaimMinIdle time.Duration `toml:"claim_min_idle"`
}

// BonusConfig holds the signup bonus amount
type BonusConfig struct {
	Amount int64 `toml:"amount"`
}

// ImageGenConfig holds the upstream image generator settings
type ImageGenConfig struct {
	Endpoint string        `toml:"endpoint"`
	Timeout  time.Duration `toml:"timeout"`
}

// BlobConfig holds the object storage settings
type BlobConfig struct {
	Root    string `toml:"root"`
	Bucket  string `toml:"bucket"`
	BaseURL string `toml:"base_url"`
}

// RateLimitConfig bounds image generation requests per caller
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// WorkerConfig holds background job settings
type WorkerConfig struct {
	ReconcileSchedule string `toml:"reconcile_schedule"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			Username:    "postgres",
			Password:    "password",
			DBName:      "coinmarket",
			SSLMode:     "disable",
			AutoMigrate: true,
		},
		Store: StoreConfig{
			Driver:        StorePostgres,
			MaxTxAttempts: 5,
			TxBackoff:     20 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Stream:       "auth:account-created",
			Group:        "signup-bonus",
			Consumer:     "worker-1",
			ClaimMinIdle: time.Minute,
		},
		Bonus: BonusConfig{
			Amount: 1000,
		},
		ImageGen: ImageGenConfig{
			Endpoint: "https://image.pollinations.ai/prompt",
			Timeout:  60 * time.Second,
		},
		Blob: BlobConfig{
			Root:    "./data/blobs",
			Bucket:  "dream-diary.appspot.com",
			BaseURL: "http://localhost:8080/v0/b",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0.2,
			Burst:             3,
		},
		Worker: WorkerConfig{
			ReconcileSchedule: "@every 1h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path, a .env file in the working directory and the environment, each
// overriding the previous.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// variables already in the environment win over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Username = getEnv("DB_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", cfg.Database.AutoMigrate)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.MaxTxAttempts = getEnvAsInt("STORE_MAX_TX_ATTEMPTS", cfg.Store.MaxTxAttempts)
	cfg.Store.TxBackoff = getEnvAsDuration("STORE_TX_BACKOFF", cfg.Store.TxBackoff)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Stream = getEnv("REDIS_STREAM", cfg.Redis.Stream)
	cfg.Redis.Group = getEnv("REDIS_GROUP", cfg.Redis.Group)
	cfg.Redis.Consumer = getEnv("REDIS_CONSUMER", cfg.Redis.Consumer)
	cfg.Redis.ClaimMinIdle = getEnvAsDuration("REDIS_CLAIM_MIN_IDLE", cfg.Redis.ClaimMinIdle)

	cfg.Bonus.Amount = int64(getEnvAsInt("SIGNUP_BONUS", int(cfg.Bonus.Amount)))

	cfg.ImageGen.Endpoint = getEnv("IMAGEGEN_ENDPOINT", cfg.ImageGen.Endpoint)
	cfg.ImageGen.Timeout = getEnvAsDuration("IMAGEGEN_TIMEOUT", cfg.ImageGen.Timeout)

	cfg.Blob.Root = getEnv("BLOB_ROOT", cfg.Blob.Root)
	cfg.Blob.Bucket = getEnv("BLOB_BUCKET", cfg.Blob.Bucket)
	cfg.Blob.BaseURL = getEnv("BLOB_BASE_URL", cfg.Blob.BaseURL)

	cfg.RateLimit.RequestsPerSecond = getEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Worker.ReconcileSchedule = getEnv("RECONCILE_SCHEDULE", cfg.Worker.ReconcileSchedule)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.JSON = getEnvAsBool("LOG_JSON", cfg.Log.JSON)
}

// Validate reports settings the application cannot start with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Bonus.Amount <= 0 {
		return errors.New("bonus amount must be positive")
	}
	if c.Blob.Bucket == "" {
		return errors.New("blob bucket is required")
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
