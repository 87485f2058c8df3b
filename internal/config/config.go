package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppPort        = "8080"
	defaultOrderTopic     = "order-events"
	defaultOrderIDPrefix  = "ORD"
	defaultIdempotencyTTL = 24 * time.Hour
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	JWTSecret  string

	// InternalServiceKey unlocks the internal rate limit tier via X-Service-Auth.
	InternalServiceKey string

	// Optional integrations. Empty addresses disable them.
	KafkaBrokers    []string
	KafkaOrderTopic string
	RedisAddr       string
	RedisPassword   string

	OrderIDPrefix  string
	IdempotencyTTL time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:             os.Getenv("DB_HOST"),
		DBUser:             os.Getenv("DB_USER"),
		DBPassword:         os.Getenv("DB_PASSWORD"),
		DBName:             os.Getenv("DB_NAME"),
		DBPort:             os.Getenv("DB_PORT"),
		AppPort:            envOr("APP_PORT", defaultAppPort),
		AppEnv:             os.Getenv("APP_ENV"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		InternalServiceKey: os.Getenv("INTERNAL_SERVICE_KEY"),
		KafkaBrokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:    envOr("KAFKA_ORDER_TOPIC", defaultOrderTopic),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		OrderIDPrefix:      envOr("ORDER_ID_PREFIX", defaultOrderIDPrefix),
		IdempotencyTTL:     durationOr("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
