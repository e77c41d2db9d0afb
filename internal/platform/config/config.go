// Package config builds the process configuration from environment
// variables so main stays lean.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds connection settings for the optional Redis backends.
// An empty URL means Redis is not configured and memory stores are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config is the full process configuration.
type Config struct {
	Addr string

	// MasterKey is the 32-byte root secret both providers derive per-user
	// keys from. Hex-encoded in the environment.
	MasterKey   []byte
	MasterKeyID string

	// TokenSecret signs classical HS256 tokens.
	TokenSecret string

	// BridgeURL, when set, routes ML-DSA token operations to the external
	// signing bridge instead of signing natively.
	BridgeURL string

	PQCTimeout       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// DefaultRolloutPercent seeds every experiment that has no stored
	// percentage yet.
	DefaultRolloutPercent float64

	// PostgresDSN, when set, selects the Postgres record store.
	PostgresDSN string

	Redis RedisConfig

	// KafkaBrokers, when set, enables the Kafka exposure sink.
	KafkaBrokers  []string
	ExposureTopic string
}

// devMasterKey keeps local development working without secrets management.
// Production deployments must set PQSHIELD_MASTER_KEY.
const devMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("PQSHIELD_ADDR", ":8080"),
		MasterKeyID:           envOr("PQSHIELD_MASTER_KEY_ID", "master-v1"),
		TokenSecret:           envOr("PQSHIELD_TOKEN_SECRET", "dev-secret-key-change-in-production"),
		BridgeURL:             os.Getenv("PQSHIELD_BRIDGE_URL"),
		PostgresDSN:           os.Getenv("DATABASE_URL"),
		ExposureTopic:         envOr("PQSHIELD_EXPOSURE_TOPIC", "pqshield.experiment.exposures"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	masterKey, err := hex.DecodeString(envOr("PQSHIELD_MASTER_KEY", devMasterKey))
	if err != nil {
		return Config{}, fmt.Errorf("PQSHIELD_MASTER_KEY: %w", err)
	}
	if len(masterKey) != 32 {
		return Config{}, fmt.Errorf("PQSHIELD_MASTER_KEY: expected 32 bytes, got %d", len(masterKey))
	}
	cfg.MasterKey = masterKey

	if cfg.PQCTimeout, err = durationOr("PQSHIELD_PQC_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerCooldown, err = durationOr("PQSHIELD_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerThreshold, err = intOr("PQSHIELD_BREAKER_THRESHOLD", 3); err != nil {
		return Config{}, err
	}
	if cfg.DefaultRolloutPercent, err = floatOr("PQSHIELD_ROLLOUT_PERCENT", 0); err != nil {
		return Config{}, err
	}
	if cfg.DefaultRolloutPercent < 0 || cfg.DefaultRolloutPercent > 100 {
		return Config{}, fmt.Errorf("PQSHIELD_ROLLOUT_PERCENT: must be in [0,100]")
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatOr(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
