//go:build integration

package config_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"pqshield/internal/rollout/store/config"
	id "pqshield/pkg/domain"
	"pqshield/pkg/testutil/containers"
)

type RedisConfigStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *config.RedisConfigStore
}

func TestRedisConfigStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisConfigStoreSuite))
}

func (s *RedisConfigStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = config.NewRedis(s.redis.Client)
}

func (s *RedisConfigStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisConfigStoreSuite) TestUnknownExperimentIsZero() {
	pct, err := s.store.GetPercentage(context.Background(), id.ExperimentID("unknown"))
	s.Require().NoError(err)
	s.Zero(pct)
}

func (s *RedisConfigStoreSuite) TestSetAndGetPercentage() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 42.5))

	pct, err := s.store.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Equal(42.5, pct)
}

func (s *RedisConfigStoreSuite) TestUpdateOverwrites() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 10))
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 60))

	pct, err := s.store.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Equal(60.0, pct)
}

func (s *RedisConfigStoreSuite) TestListReturnsAllExperiments() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 25))
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-b"), 75))

	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
	s.Equal(25.0, all[id.ExperimentID("exp-a")])
	s.Equal(75.0, all[id.ExperimentID("exp-b")])
}

func (s *RedisConfigStoreSuite) TestSeedOnlyWhenAbsent() {
	ctx := context.Background()

	s.Require().NoError(s.store.SeedPercentage(ctx, id.ExperimentID("exp-a"), 25))
	pct, err := s.store.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Equal(25.0, pct)

	s.Require().NoError(s.store.SeedPercentage(ctx, id.ExperimentID("exp-a"), 75))
	pct, err = s.store.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Equal(25.0, pct)
}

// A stored 0 is an operator decision to disable the experiment; startup
// seeding must not resurrect it.
func (s *RedisConfigStoreSuite) TestSeedKeepsExplicitZero() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 0))

	s.Require().NoError(s.store.SeedPercentage(ctx, id.ExperimentID("exp-a"), 50))

	pct, err := s.store.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Zero(pct)
}

// Percentage changes must be visible to a second store instance sharing the
// same Redis, which is the point of backing rollout config with Redis.
func (s *RedisConfigStoreSuite) TestVisibleAcrossInstances() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetPercentage(ctx, id.ExperimentID("exp-a"), 30))

	other := config.NewRedis(s.redis.Client)
	pct, err := other.GetPercentage(ctx, id.ExperimentID("exp-a"))
	s.Require().NoError(err)
	s.Equal(30.0, pct)
}
