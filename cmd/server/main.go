package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/cache"
	"github.com/vedran77/parley/internal/config"
	"github.com/vedran77/parley/internal/database"
	"github.com/vedran77/parley/internal/events"
	"github.com/vedran77/parley/internal/logging"
	"github.com/vedran77/parley/internal/metrics"
	"github.com/vedran77/parley/internal/realtime"
	"github.com/vedran77/parley/internal/repository"
	"github.com/vedran77/parley/internal/repository/memory"
	postgresrepo "github.com/vedran77/parley/internal/repository/postgres"
	"github.com/vedran77/parley/internal/service"
	"github.com/vedran77/parley/internal/transport/http/handlers"
	"github.com/vedran77/parley/internal/transport/http/middleware"
	"github.com/vedran77/parley/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	convRepo, msgRepo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Optional Redis for cross-process fan-out
	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		rdb, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Info().Msg("Connected to redis")
	}

	// Cache invalidation
	aggregator := service.NewConversationDetailsAggregator(msgRepo)
	detailsCache, err := cache.NewDetailsCache(aggregator, cfg.DetailsCacheSize, log)
	if err != nil {
		return err
	}
	publisher := events.NewPublisher(log, events.Options{
		QueueSize:  cfg.EventQueueSize,
		MaxRetries: cfg.EventMaxRetries,
	}, detailsCache)
	if rdb != nil {
		publisher.AddSink(events.NewRedisSink(rdb, cfg.InvalidationChannel))
		go runBackground(ctx, log, "invalidation subscriber",
			events.NewRedisSubscriber(rdb, cfg.InvalidationChannel, log, detailsCache).Run)
	}
	publisher.Start(ctx)

	// Realtime
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	var transport realtime.Transport = hub
	if rdb != nil {
		// Every instance relays the shared channels into its own hub.
		transport = realtime.NewRedisTransport(rdb, cfg.RealtimeChannelPrefix)
		go runBackground(ctx, log, "realtime relay",
			realtime.NewRedisRelay(rdb, cfg.RealtimeChannelPrefix, hub, log).Run)
	}
	dispatcher := realtime.NewDispatcher(transport, log, realtime.Options{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
		Timeout:   cfg.DispatchTimeout,
	})
	dispatcher.Start(ctx)

	// Services
	conversations := service.NewConversationManager(convRepo, msgRepo, publisher, log)
	messaging := service.NewMessagingService(service.MessagingDeps{
		Conversations: conversations,
		Messages:      service.NewMessageStateMachine(msgRepo),
		Batch:         service.NewBatchStatusUpdater(conversations, msgRepo),
		Details:       detailsCache,
		MessageRepo:   msgRepo,
		Publisher:     publisher,
		Dispatcher:    dispatcher,
		PreviewLimit:  cfg.PreviewLimit,
	}, log)

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", ws.ServeWS(ctx, hub, messaging, cfg.JWTSecret, log))
	handlers.NewMessagingHandler(messaging, log).Register(mux, middleware.Auth(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.RequestLogger(log)(middleware.CORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("Starting server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	dispatcher.Close()
	publisher.Close()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.ConversationRepository, repository.MessageRepository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store := memory.NewStore()
		return store.Conversations(), store.Messages(), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	log.Info().Msg("Connected to database")
	return postgresrepo.NewConversationRepo(pool), postgresrepo.NewMessageRepo(pool), pool.Close, nil
}

func runBackground(ctx context.Context, log zerolog.Logger, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("worker", name).Msg("Background worker stopped")
	}
}
