package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Chain    ChainConfig
	Ledger   LedgerConfig
	Jobs     JobsConfig
	Kafka    KafkaConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        string
	Env         string
	FrontendURL string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DSN returns the lib/pq keyword/value connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL            string
	Password       string
	IdempotencyTTL time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// ChainConfig holds the circle contract oracle settings
type ChainConfig struct {
	RPCURL          string
	ContractAddress string
	CallTimeout     time.Duration
	RateLimit       float64
	RateBurst       int
	MaxRetries      int
	RetryBackoff    time.Duration
}

// Closure policies decide when a withdrawal closes its circle
const (
	ClosurePolicyFirstWithdrawal = "first_withdrawal"
	ClosurePolicyDrained         = "drained"
)

// LedgerConfig holds reconciliation engine settings
type LedgerConfig struct {
	OpTimeout     time.Duration
	ClosurePolicy string
}

// JobsConfig holds background job schedules
type JobsConfig struct {
	CycleEndInterval     time.Duration
	RelayInterval        time.Duration
	RelayBatchSize       int
	RelayMaxRetries      int
	ConfirmationInterval time.Duration
}

// KafkaConfig holds ledger event publishing settings. Publishing is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Enabled reports whether any broker is configured
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Env:         getEnv("SERVER_ENV", "development"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "circlesave"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-in-production"),
			Issuer: getEnv("JWT_ISSUER", ""),
			Expiry: getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			ContractAddress: getEnv("CIRCLE_CONTRACT_ADDRESS", ""),
			CallTimeout:     getEnvAsDuration("CHAIN_CALL_TIMEOUT", 10*time.Second),
			RateLimit:       getEnvAsFloat("ORACLE_RATE_LIMIT", 10),
			RateBurst:       getEnvAsInt("ORACLE_RATE_BURST", 20),
			MaxRetries:      getEnvAsInt("ORACLE_MAX_RETRIES", 3),
			RetryBackoff:    getEnvAsDuration("ORACLE_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Ledger: LedgerConfig{
			OpTimeout:     getEnvAsDuration("LEDGER_OP_TIMEOUT", 5*time.Second),
			ClosurePolicy: getClosurePolicy(getEnv("LEDGER_CLOSURE_POLICY", ClosurePolicyFirstWithdrawal)),
		},
		Jobs: JobsConfig{
			CycleEndInterval:     getEnvAsDuration("JOB_CYCLE_END_INTERVAL", time.Minute),
			RelayInterval:        getEnvAsDuration("JOB_RELAY_INTERVAL", 5*time.Second),
			RelayBatchSize:       getEnvAsInt("JOB_RELAY_BATCH_SIZE", 100),
			RelayMaxRetries:      getEnvAsInt("JOB_RELAY_MAX_RETRIES", 5),
			ConfirmationInterval: getEnvAsDuration("JOB_CONFIRMATION_INTERVAL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvAsSlice("KAFKA_BROKERS"),
			Topic:    getEnv("KAFKA_LEDGER_TOPIC", "circlesave.ledger-events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "circlesave-backend"),
		},
	}
}

func getClosurePolicy(value string) string {
	if value == ClosurePolicyDrained {
		return ClosurePolicyDrained
	}
	return ClosurePolicyFirstWithdrawal
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
