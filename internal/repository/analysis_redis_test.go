package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

func TestAnalysisRedisKeys(t *testing.T) {
	id := game.Identity{Kind: game.KindReview, ID: "314"}
	require.Equal(t, "analysis:review:314", ChannelName(id))
	require.Equal(t, "analysis:latest:review:314", LatestKey(id))
}

// Runs against a real server when TEST_REDIS_ADDR is set, e.g. localhost:6379.
func TestAnalysisRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	store := NewAnalysisRedis(client, time.Minute, zap.NewNop().Sugar())
	id := game.Identity{Kind: game.KindLive, ID: uuid.NewString()}
	t.Cleanup(func() { client.Del(context.Background(), LatestKey(id)) })

	_, ok, err := store.Latest(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	sub := store.Subscribe(ctx, id)
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := game.Publication{Game: id, Statistics: game.Statistics{MoveNumber: 8, BlackWinrate: 61}}
	require.NoError(t, store.Publish(ctx, pub))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var received game.Publication
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &received))
	require.Equal(t, 8, received.Statistics.MoveNumber)

	latest, ok, err := store.Latest(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, latest.Game)

	ttl, err := client.TTL(ctx, LatestKey(id)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
