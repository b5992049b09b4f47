package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/movimentoterra/internal/api"
	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/cache"
	"example.com/movimentoterra/internal/config"
	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/identity"
	"example.com/movimentoterra/internal/logging"
	"example.com/movimentoterra/internal/outbox"
	persistence "example.com/movimentoterra/internal/persistence/postgres"
	httptransport "example.com/movimentoterra/internal/transport/http"
)

const (
	memoryCacheEntries = 2048
	identityTimeout    = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logger, err := logging.New("api", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	store, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	loc := cfg.Location()
	opts := []domain.Option{
		domain.WithCache(store, cfg.DashboardCacheTTL),
		domain.WithLogger(logger),
		domain.WithLocation(loc),
	}
	repo := persistence.NewRepository(pool)
	moderator := identity.NewClient(cfg.AuthProviderURL, cfg.AuthProviderToken, identityTimeout)

	handler := api.NewHandler(api.Services{
		Activities: domain.NewActivityService(repo, opts...),
		Dashboard:  domain.NewDashboardService(repo, opts...),
		Registry:   domain.NewRegistryService(repo, opts...),
		Users:      domain.NewUserService(repo, moderator, opts...),
	},
		api.WithLogger(logger),
		api.WithBaseURL(cfg.AppBaseURL),
		api.WithLocation(loc),
		api.WithRateLimiter(api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
	)

	var dispatcher *outbox.Dispatcher
	if len(cfg.KafkaBrokers) > 0 {
		producer := outbox.NewPublisher(cfg.KafkaBrokers, outbox.WithPublisherLogger(logger.Named("kafka")))
		defer producer.Close()
		dispatcher = outbox.NewDispatcher(outbox.NewPostgresStore(pool), producer, logger.Named("outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set, change events stay in the outbox")
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, handler.Routes(authMiddleware))

	if err := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, logger); err != nil {
		logger.Error("http server failed", zap.Error(err))
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// newCache prefers Redis so replicas share projections, and falls back to a
// per-process LRU when Redis is not configured or unreachable.
func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Store, func()) {
	memory := func() (cache.Store, func()) {
		return cache.NewMemoryStore(memoryCacheEntries, cfg.DashboardCacheTTL), func() {}
	}
	if cfg.RedisURL == "" {
		return memory()
	}
	store, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, using in-process cache", zap.Error(err))
		return memory()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, using in-process cache", zap.Error(err))
		_ = store.Close()
		return memory()
	}
	return store, func() { _ = store.Close() }
}
