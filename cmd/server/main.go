package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/iho/cashledger/internal/adapter/http"
	"github.com/iho/cashledger/internal/adapter/http/handler"
	"github.com/iho/cashledger/internal/adapter/http/middleware"
	"github.com/iho/cashledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/cashledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/cashledger/internal/adapter/repository/redis"
	"github.com/iho/cashledger/internal/infrastructure/auth"
	"github.com/iho/cashledger/internal/infrastructure/config"
	"github.com/iho/cashledger/internal/infrastructure/eventpublisher"
	"github.com/iho/cashledger/internal/infrastructure/logger"
	"github.com/iho/cashledger/internal/infrastructure/metrics"
	"github.com/iho/cashledger/internal/infrastructure/postgres"
	"github.com/iho/cashledger/internal/infrastructure/redis"
	"github.com/iho/cashledger/internal/usecase"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	zerolog.DefaultContextLogger = &appLogger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Fatal().Err(err).Msg("server failed")
	}
}

// storage bundles the repositories of one storage driver.
type storage struct {
	txManager  usecase.TransactionManager
	movements  usecase.MovementRepository
	audit      usecase.AuditRepository
	ledger     usecase.LedgerRepository
	categories usecase.CategoryLookup
	identities usecase.IdentityDirectory
	outbox     usecase.OutboxRepository
	retrier    usecase.Retrier
	checks     []handler.HealthCheck
	close      func()
}

func openStorage(ctx context.Context, cfg *config.Config, l zerolog.Logger, m *metrics.Metrics) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		l.Warn().Msg("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		s := &storage{
			txManager:  memory.NewTxManager(store),
			movements:  memory.NewMovementRepository(store),
			audit:      memory.NewAuditRepository(store),
			ledger:     memory.NewLedgerRepository(store),
			categories: memory.NewCategoryRepository(store),
			identities: memory.NewUserDirectory(store),
			close:      func() {},
		}
		if cfg.EventSink != config.SinkNone {
			s.outbox = memory.NewOutboxRepository(store)
		}
		return s, nil
	}

	if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, l).Up(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	l.Info().Msg("connected to postgres")

	s := &storage{
		txManager:  postgresRepo.NewTxManager(pool),
		movements:  postgresRepo.NewMovementRepository(pool),
		audit:      postgresRepo.NewAuditRepository(pool),
		ledger:     postgresRepo.NewLedgerRepository(pool),
		categories: postgresRepo.NewCategoryRepository(pool),
		identities: postgresRepo.NewUserDirectory(pool),
		outbox:     postgresRepo.NewNullOutboxRepository(),
		retrier: postgresRepo.NewRetrier(
			postgresRepo.WithMaxRetries(cfg.RetryMaxAttempts),
			postgresRepo.WithLogger(l),
			postgresRepo.WithMetrics(m),
		),
		checks: []handler.HealthCheck{{Name: "postgres", Check: pingPool(pool)}},
		close:  pool.Close,
	}
	if cfg.EventSink != config.SinkNone {
		s.outbox = postgresRepo.NewOutboxRepository(pool)
	}
	return s, nil
}

func pingPool(pool *pgxpool.Pool) func(ctx context.Context) error {
	return pool.Ping
}

func pingRedis(client goredis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error { return redis.Ping(ctx, client) }
}

// newEventSink returns the publisher selected by EVENT_SINK, or nil.
func newEventSink(cfg *config.Config, l zerolog.Logger) (eventpublisher.Publisher, io.Closer, error) {
	switch cfg.EventSink {
	case config.SinkLog:
		return eventpublisher.NewLogPublisher(l), nil, nil
	case config.SinkKafka:
		p, err := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case config.SinkAMQP:
		p, err := eventpublisher.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, nil
	}
}

// app is the wired server before it starts listening.
type app struct {
	router    http.Handler
	publisher *eventpublisher.EventPublisher
	cleanup   []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, l zerolog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{}

	store, err := openStorage(ctx, cfg, l, m)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, store.close)

	var (
		cache            usecase.Cache
		idempotencyStore usecase.IdempotencyStore
		checks           = store.checks
	)
	if cfg.CacheEnabled {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { _ = client.Close() })
		l.Info().Msg("connected to redis")

		cache = redisRepo.NewCache(client)
		idempotencyStore = redisRepo.NewIdempotencyStore(client)
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: pingRedis(client)})
	}

	sink, closer, err := newEventSink(cfg, l)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("event sink: %w", err)
	}
	if closer != nil {
		a.cleanup = append(a.cleanup, func() { _ = closer.Close() })
	}
	if sink != nil && store.outbox != nil {
		a.publisher = eventpublisher.NewEventPublisher(eventpublisher.Config{
			OutboxRepo: store.outbox,
			Publisher:  sink,
			Logger:     l,
			Metrics:    m,
			Interval:   cfg.OutboxPollInterval,
			Retention:  cfg.OutboxRetention,
		})
	}

	// Initialize use cases
	ledgerUC := usecase.NewLedgerUseCase(usecase.LedgerDeps{
		TxManager:  store.txManager,
		Movements:  store.movements,
		Audit:      store.audit,
		Ledger:     store.ledger,
		Categories: store.categories,
		Identities: store.identities,
		Outbox:     store.outbox,
		IDGen:      postgresRepo.NewULIDGenerator(),
		Retrier:    store.retrier,
		Cache:      cache,
		Metrics:    m,
		Logger:     l,
	})
	balanceUC := usecase.NewBalanceUseCase(store.movements, store.ledger, store.categories, cache, cfg.AggregateCacheTTL, m, l)
	auditUC := usecase.NewAuditUseCase(store.audit)
	reconciliationUC := usecase.NewReconciliationUseCase(store.ledger)

	routerCfg := httpAdapter.RouterConfig{
		MovementHandler:  handler.NewMovementHandler(ledgerUC, balanceUC),
		ReportHandler:    handler.NewReportHandler(balanceUC),
		AuditHandler:     handler.NewAuditHandler(auditUC),
		LedgerHandler:    handler.NewLedgerHandler(reconciliationUC),
		HealthHandler:    handler.NewHealthHandler(checks...),
		IdempotencyStore: idempotencyStore,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		Metrics:          m,
		Logger:           l,
	}
	if cfg.AuthEnabled {
		routerCfg.JWTManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		l.Info().Msg("authentication enabled")
	}
	if cfg.RateLimitRPS > 0 {
		routerCfg.RateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)
	}

	a.router = httpAdapter.NewRouter(routerCfg)
	return a, nil
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	a, err := build(ctx, cfg, l, metrics.New())
	if err != nil {
		return err
	}
	defer a.close()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if a.publisher != nil {
		go func() {
			if err := a.publisher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error().Err(err).Msg("event publisher stopped")
			}
		}()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      a.router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info().Msg("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	cancelBg()

	l.Info().Msg("server stopped")
	return nil
}
