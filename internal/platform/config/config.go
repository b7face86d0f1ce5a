package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Built from the environment so
// main stays lean.
type Server struct {
	Addr          string
	JWTSigningKey string
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Issuance      IssuanceConfig
}

// PostgresConfig configures the backing store connection.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the optional identity-record cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. Empty brokers disable it.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
}

// IssuanceConfig bounds the identity-number generation retry loop.
type IssuanceConfig struct {
	MaxAttempts int
}

// IdentityCacheTTL enforces retention for cached canonical identity records.
var IdentityCacheTTL = 5 * time.Minute

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("CIVREG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "civreg.audit"
	}

	maxAttempts := 5
	if raw := os.Getenv("ISSUANCE_MAX_ATTEMPTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			maxAttempts = n
		}
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:      brokers,
			Topic:        topic,
			PollInterval: time.Second,
		},
		Issuance: IssuanceConfig{MaxAttempts: maxAttempts},
	}
}
