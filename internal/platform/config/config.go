package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the processor needs from its environment.
type Config struct {
	Addr string

	PostgresURL string

	Redis RedisConfig

	Kafka KafkaConfig

	// Workers is the number of concurrent message processors.
	Workers int
	// RetryBudget bounds transaction retries after transient store failures.
	RetryBudget int
	// WaveformRetention is how long waveform batches are kept.
	WaveformRetention time.Duration
	// EffectBuffer is the effect journal inbox size.
	EffectBuffer int

	LogLevel string
}

// RedisConfig captures Redis connection settings. An empty URL disables the
// fact-type cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the inbound stream settings. Empty brokers disable the
// consumer, which keeps local runs and tests broker-free.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("CONCORD_ADDR", ":8090"),
		PostgresURL: os.Getenv("CONCORD_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("CONCORD_REDIS_URL"),
			PoolSize:     envInt("CONCORD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONCORD_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CONCORD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CONCORD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CONCORD_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Topic: envOr("CONCORD_KAFKA_TOPIC", "clinical-events"),
			Group: envOr("CONCORD_KAFKA_GROUP", "concord-processor"),
		},
		Workers:           envInt("CONCORD_WORKERS", 8),
		RetryBudget:       envInt("CONCORD_RETRY_BUDGET", 3),
		WaveformRetention: envDuration("CONCORD_WAVEFORM_RETENTION", 7*24*time.Hour),
		EffectBuffer:      envInt("CONCORD_EFFECT_BUFFER", 1024),
		LogLevel:          envOr("CONCORD_LOG_LEVEL", "info"),
	}
	if brokers := os.Getenv("CONCORD_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
