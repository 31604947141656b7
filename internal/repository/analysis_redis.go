package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

const (
	channelPrefix   = "analysis:"
	latestKeyPrefix = "analysis:latest:"
)

// AnalysisRedis publishes every analysis on a per-game channel and keeps the
// latest one under a key so other services can read it without subscribing.
type AnalysisRedis struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewAnalysisRedis(client *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *AnalysisRedis {
	return &AnalysisRedis{redis: client, ttl: ttl, log: log}
}

func ChannelName(id game.Identity) string {
	return channelPrefix + id.Key()
}

func LatestKey(id game.Identity) string {
	return latestKeyPrefix + id.Key()
}

func (a *AnalysisRedis) Publish(ctx context.Context, pub game.Publication) error {
	data, err := json.Marshal(pub)
	if err != nil {
		return fmt.Errorf("marshal publication: %w", err)
	}

	pipe := a.redis.TxPipeline()
	receivers := pipe.Publish(ctx, ChannelName(pub.Game), data)
	pipe.Set(ctx, LatestKey(pub.Game), data, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", pub.Game.Key(), err)
	}

	a.log.Debugw("analysis published to redis", "channel", ChannelName(pub.Game), "receivers", receivers.Val())
	return nil
}

// Latest returns the last analysis stored for the game, if it has not expired.
func (a *AnalysisRedis) Latest(ctx context.Context, id game.Identity) (game.Publication, bool, error) {
	data, err := a.redis.Get(ctx, LatestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return game.Publication{}, false, nil
	}
	if err != nil {
		return game.Publication{}, false, err
	}

	var pub game.Publication
	if err := json.Unmarshal(data, &pub); err != nil {
		return game.Publication{}, false, fmt.Errorf("decode latest analysis: %w", err)
	}
	return pub, true, nil
}

// Subscribe follows one game's channel. The caller closes the returned
// PubSub when done.
func (a *AnalysisRedis) Subscribe(ctx context.Context, id game.Identity) *redis.PubSub {
	return a.redis.Subscribe(ctx, ChannelName(id))
}
