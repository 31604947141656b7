package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"baduk_relay/internal/adapters"
	"baduk_relay/internal/bootstrap"
	"baduk_relay/internal/domain/game"
	"baduk_relay/internal/repository"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <kind> <id>",
		Short: "Print a game's analyses as they are published to redis",
		Args:  cobra.ExactArgs(2),
		RunE:  runWatchCmd,
	}
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.Setup(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := NewLogger(cfg.LogLevel)
	defer logger.Sync()

	kind, err := game.ParseKind(args[0])
	if err != nil {
		return err
	}
	id := game.Identity{Kind: kind, ID: args[1]}

	redisAdapter := adapters.NewAdapterRedis(cfg, logger)
	if !redisAdapter.Enabled() {
		return errors.New("REDIS_URL is not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisAdapter.Init(ctx); err != nil {
		return err
	}
	defer redisAdapter.Close(context.Background())

	store := repository.NewAnalysisRedis(redisAdapter.GetClient(), cfg.RedisLatestTTL, logger)
	out := cmd.OutOrStdout()

	if latest, ok, err := store.Latest(ctx, id); err != nil {
		logger.Warnw("failed to read latest analysis", "game", id.Key(), "error", err)
	} else if ok {
		fmt.Fprintln(out, formatStatistics(latest.Statistics))
	}

	sub := store.Subscribe(ctx, id)
	defer sub.Close()
	logger.Infow("watching", "channel", repository.ChannelName(id))

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var pub game.Publication
		if err := json.Unmarshal([]byte(msg.Payload), &pub); err != nil {
			logger.Warnw("undecodable analysis on channel", "error", err)
			continue
		}
		fmt.Fprintln(out, formatStatistics(pub.Statistics))
	}
}

func formatStatistics(s game.Statistics) string {
	return fmt.Sprintf("move %d: black %.1f%% white %.1f%% (human %.0f/%.0f) score %+.1f",
		s.MoveNumber, s.BlackWinrate, s.WhiteWinrate, s.HumanBlack, s.HumanWhite, s.ScoreLead)
}
