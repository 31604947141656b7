package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baduk_relay/internal/bootstrap"
)

func TestMongoOptions(t *testing.T) {
	opts := mongoOptions("mongodb://archive:27017")
	require.Equal(t, []string{"archive:27017"}, opts.Hosts)
	require.Equal(t, mongoAppName, *opts.AppName)
	require.Equal(t, mongoConnectTimeout, *opts.ServerSelectionTimeout)
}

func TestAdaptersDisabledWithoutAddress(t *testing.T) {
	cfg := &bootstrap.Config{}
	log := zap.NewNop().Sugar()
	require.False(t, NewAdapterMongo(cfg, log).Enabled())
	require.False(t, NewAdapterRedis(cfg, log).Enabled())

	cfg.MongoUri = "mongodb://archive:27017"
	cfg.RedisUrl = "cache:6379"
	require.True(t, NewAdapterMongo(cfg, log).Enabled())
	require.True(t, NewAdapterRedis(cfg, log).Enabled())
}
