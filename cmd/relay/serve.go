package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"baduk_relay/internal/adapters"
	"baduk_relay/internal/bootstrap"
	gameDelivery "baduk_relay/internal/delivery/game"
	"baduk_relay/internal/delivery/health"
	"baduk_relay/internal/delivery/ws"
	"baduk_relay/internal/domain/analysis"
	ownMiddleware "baduk_relay/internal/middleware"
	"baduk_relay/internal/repository"
	analysisuc "baduk_relay/internal/usecase/analysis"
	gameuc "baduk_relay/internal/usecase/game"
	"baduk_relay/internal/usecase/queue"
	"baduk_relay/internal/usecase/relay"
)

const shutdownTimeout = 10 * time.Second

type dataBaseAdapters struct {
	redisAdapter *adapters.AdapterRedis
	mongoAdapter *adapters.AdapterMongo
}

var reviewDir string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start KataGo and serve the relay HTTP, websocket and gRPC APIs",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&reviewDir, "review-dir", "", "directory of .sgf records to load as review games on startup")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap.Setup(configPath)
	if err != nil {
		return fmt.Errorf("failed to setup configuration: %w", err)
	}
	logger := NewLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleShutdown(ctx, cancel, logger)

	databaseAdapters, err := initDatabaseAdapters(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer databaseAdapters.close(logger)

	engine, err := repository.StartKatagoClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start katago: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warnw("katago close", "error", err)
		}
	}()

	hub := ws.NewHub(logger)
	publishers := relay.NewMultiPublisher(logger, hub)

	registry := gameuc.NewRegistry(gameuc.Defaults{Rules: cfg.DefaultRules, Komi: cfg.DefaultKomi})
	rl := relay.NewRelay(registry, analysisuc.NewProcessor(cfg.HistorySize), publishers, logger)
	analysisQueue := queue.NewAnalysisQueue(engine, rl, queue.Config{
		JobTimeout: cfg.JobTimeout,
		Request:    requestOptions(cfg),
	}, logger)
	rl.Bind(analysisQueue)

	if reviewDir != "" {
		loadReviews(ctx, rl, reviewDir, logger)
	}

	healthServer := health.NewServer(logger)
	handler := gameDelivery.NewGameHandler(logger, rl, hub, healthServer)

	if databaseAdapters.redisAdapter != nil {
		store := repository.NewAnalysisRedis(databaseAdapters.redisAdapter.GetClient(), cfg.RedisLatestTTL, logger)
		publishers.Add(store)
		handler.WithLatestStore(store)
	}
	if databaseAdapters.mongoAdapter != nil {
		archive := repository.NewAnalysisArchive(databaseAdapters.mongoAdapter.Database, logger)
		if err := archive.EnsureIndexes(ctx); err != nil {
			logger.Warnw("failed to create archive indexes", "error", err)
		}
		publishers.Add(archive)
		handler.WithArchive(archive)
	}

	r := chi.NewRouter()
	if cfg.IsLocalCors {
		r.Use(ownMiddleware.CORS)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	handler.Routes(r)

	httpServer := &http.Server{Addr: ":" + cfg.ServerPort, Handler: r}
	grpcServer := grpc.NewServer()
	healthServer.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcPort)
	if err != nil {
		return fmt.Errorf("cant listen grpc port: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		analysisQueue.Run(gctx)
		return nil
	})
	group.Go(func() error {
		healthServer.Watch(gctx, engine.Done())
		return nil
	})
	group.Go(func() error {
		logger.Infof("HTTP server is running on port %s", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("gRPC health server is running on port %s", cfg.GrpcPort)
		return grpcServer.Serve(grpcListener)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("http shutdown", "error", err)
		}
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		if err := analysisQueue.Close(shutdownTimeout); err != nil {
			logger.Warnw("queue shutdown", "error", err)
		}
		return nil
	})

	return group.Wait()
}

func requestOptions(cfg *bootstrap.Config) analysis.RequestOptions {
	return analysis.RequestOptions{MaxVisits: cfg.MaxVisits, IncludePolicy: cfg.IncludePolicy}
}

// loadReviews queues every record found under dir. Broken files are logged
// and skipped.
func loadReviews(ctx context.Context, rl *relay.Relay, dir string, log *zap.SugaredLogger) {
	updates, err := gameuc.LoadReviewDirectory(dir)
	if err != nil {
		log.Warnw("some review records were skipped", "dir", dir, "error", err)
	}
	for _, update := range updates {
		if _, err := rl.OnPosition(ctx, update); err != nil {
			log.Warnw("failed to queue review", "game", update.Identity.Key(), "error", err)
		}
	}
	log.Infow("review records loaded", "dir", dir, "games", len(updates))
}

func initDatabaseAdapters(ctx context.Context, log *zap.SugaredLogger, cfg *bootstrap.Config) (*dataBaseAdapters, error) {
	result := &dataBaseAdapters{}

	redisAdapter := adapters.NewAdapterRedis(cfg, log)
	if redisAdapter.Enabled() {
		if err := redisAdapter.Init(ctx); err != nil {
			return nil, fmt.Errorf("не удалось инициализировать Redis: %w", err)
		}
		result.redisAdapter = redisAdapter
	}

	mongoAdapter := adapters.NewAdapterMongo(cfg, log)
	if mongoAdapter.Enabled() {
		if err := mongoAdapter.Init(ctx); err != nil {
			result.close(log)
			return nil, fmt.Errorf("не удалось инициализировать MongoDB: %w", err)
		}
		result.mongoAdapter = mongoAdapter
	}

	log.Infow("database adapters initialised", "redis", result.redisAdapter != nil, "mongo", result.mongoAdapter != nil)
	return result, nil
}

func (d *dataBaseAdapters) close(log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.mongoAdapter != nil {
		if err := d.mongoAdapter.Close(ctx); err != nil {
			log.Warnw("mongo disconnect", "error", err)
		}
	}
	if d.redisAdapter != nil {
		if err := d.redisAdapter.Close(ctx); err != nil {
			log.Warnw("redis close", "error", err)
		}
	}
}

func handleShutdown(ctx context.Context, cancelFunc context.CancelFunc, log *zap.SugaredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.Infow("Received shutdown signal", "signal", sig.String())
		cancelFunc()
	case <-ctx.Done():
	}
}
