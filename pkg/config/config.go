package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Dispatch DispatchConfig
	Payment  PaymentConfig
	Surge    SurgeConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	RegionID     string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds event bus configuration
type NATSConfig struct {
	URL        string
	StreamName string
}

// DispatchConfig groups dispatch-engine tuning knobs
type DispatchConfig struct {
	SearchRadiusKm    float64
	CandidateLimit    int
	MaxAttempts       int
	OfferTTL          time.Duration
	TimeoutSweep      time.Duration
	LockWait          time.Duration
	LockLease         time.Duration
	SnapshotInterval  time.Duration
	DriverMetadataTTL time.Duration
}

// PaymentConfig groups payment-orchestrator tuning knobs
type PaymentConfig struct {
	OutboxPollInterval    time.Duration
	OutboxBatchSize       int
	MaxOutboxRetries      int
	MaxReconcileRetries   int
	FailedSweepInterval   time.Duration
	StaleSweepInterval    time.Duration
	StalePendingThreshold time.Duration
	StripeAPIKey          string
	PSPFailureRate        float64
}

// SurgeConfig groups surge-calculator tuning knobs
type SurgeConfig struct {
	Window   time.Duration
	CacheTTL time.Duration
	Factor   float64
	Max      float64
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			RegionID:     getEnv("REGION_ID", "default"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ridepulse"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "RIDEPULSE"),
		},
		Dispatch: DispatchConfig{
			SearchRadiusKm:    getEnvAsFloat("DISPATCH_SEARCH_RADIUS_KM", 5.0),
			CandidateLimit:    getEnvAsInt("DISPATCH_CANDIDATE_LIMIT", 50),
			MaxAttempts:       getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
			OfferTTL:          getEnvAsDuration("DISPATCH_OFFER_TTL", 15*time.Second),
			TimeoutSweep:      getEnvAsDuration("DISPATCH_TIMEOUT_SWEEP", 5*time.Second),
			LockWait:          getEnvAsDuration("DISPATCH_LOCK_WAIT", 2*time.Second),
			LockLease:         getEnvAsDuration("DISPATCH_LOCK_LEASE", 5*time.Second),
			SnapshotInterval:  getEnvAsDuration("SNAPSHOT_INTERVAL", 10*time.Second),
			DriverMetadataTTL: getEnvAsDuration("DRIVER_METADATA_TTL", 30*time.Second),
		},
		Payment: PaymentConfig{
			OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			OutboxBatchSize:       getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxOutboxRetries:      getEnvAsInt("OUTBOX_MAX_RETRIES", 5),
			MaxReconcileRetries:   getEnvAsInt("RECONCILE_MAX_RETRIES", 5),
			FailedSweepInterval:   getEnvAsDuration("RECONCILE_FAILED_INTERVAL", 5*time.Minute),
			StaleSweepInterval:    getEnvAsDuration("RECONCILE_STALE_INTERVAL", 10*time.Minute),
			StalePendingThreshold: getEnvAsDuration("STALE_PENDING_THRESHOLD", 10*time.Minute),
			StripeAPIKey:          getEnv("STRIPE_API_KEY", ""),
			PSPFailureRate:        getEnvAsFloat("PSP_STUB_FAILURE_RATE", 0.2),
		},
		Surge: SurgeConfig{
			Window:   getEnvAsDuration("SURGE_WINDOW", 5*time.Minute),
			CacheTTL: getEnvAsDuration("SURGE_CACHE_TTL", 10*time.Second),
			Factor:   getEnvAsFloat("SURGE_FACTOR", 0.5),
			Max:      getEnvAsFloat("SURGE_MAX", 3.0),
		},
	}

	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Payment.OutboxBatchSize <= 0 {
		cfg.Payment.OutboxBatchSize = 50
	}
	if cfg.Surge.Max < 1.0 {
		return nil, fmt.Errorf("SURGE_MAX must be >= 1.0, got %v", cfg.Surge.Max)
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
