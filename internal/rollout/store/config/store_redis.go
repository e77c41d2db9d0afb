package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	id "pqshield/pkg/domain"
)

const rolloutKeyPrefix = "rollout:pct:"

// RedisConfigStore shares rollout percentages across instances. This is the
// cross-instance consistency extension point: bucketing stays a pure
// function, only the thresholds live here.
type RedisConfigStore struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed config store.
func NewRedis(client *redis.Client) *RedisConfigStore {
	return &RedisConfigStore{client: client}
}

// GetPercentage returns the configured percentage; a missing key means the
// experiment is fully disabled.
func (s *RedisConfigStore) GetPercentage(ctx context.Context, experimentID id.ExperimentID) (float64, error) {
	val, err := s.client.Get(ctx, rolloutKeyPrefix+experimentID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rollout percentage: %w", err)
	}

	pct, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rollout percentage %q: %w", val, err)
	}
	return pct, nil
}

// SetPercentage updates an experiment's percentage. No TTL; rollout
// configuration persists until changed.
func (s *RedisConfigStore) SetPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error {
	key := rolloutKeyPrefix + experimentID.String()
	if err := s.client.Set(ctx, key, strconv.FormatFloat(percentage, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("set rollout percentage: %w", err)
	}
	return nil
}

// SeedPercentage writes via SETNX so an existing value, including an
// explicitly stored 0, is never overwritten.
func (s *RedisConfigStore) SeedPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error {
	key := rolloutKeyPrefix + experimentID.String()
	if err := s.client.SetNX(ctx, key, strconv.FormatFloat(percentage, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("seed rollout percentage: %w", err)
	}
	return nil
}

// List scans all configured experiments.
func (s *RedisConfigStore) List(ctx context.Context) (map[id.ExperimentID]float64, error) {
	out := make(map[id.ExperimentID]float64)

	iter := s.client.Scan(ctx, 0, rolloutKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list rollout percentages: %w", err)
		}
		pct, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("parse rollout percentage %q: %w", val, err)
		}
		out[id.ExperimentID(strings.TrimPrefix(key, rolloutKeyPrefix))] = pct
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rollout keys: %w", err)
	}
	return out, nil
}
