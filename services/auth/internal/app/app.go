package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/database"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/health"
	pkgkafka "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/kafka"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/tracing"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/auth"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/config"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/event"
	handler "github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/handler/http"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository/memory"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository/postgres"
	redisrepo "github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository/redis"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/service"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/migrations"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}

	healthHandler := health.NewHandler()

	users, sessions, err := a.initStores(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	var publisher event.Publisher = event.Discard{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	authService, err := service.NewAuthService(users, sessions, tokens,
		event.NewProducer(publisher, logger), logger,
		service.Options{BcryptCost: cfg.BcryptCost, OperationTimeout: cfg.OperationTimeout},
	)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(authService, healthHandler, logger, corsConfig, cfg.PprofAllowedCIDRs)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStores builds the credential and session stores for the configured
// backend and registers their health checks.
func (a *App) initStores(ctx context.Context, hh *health.Handler) (repository.UserRepository, repository.SessionStore, error) {
	if a.cfg.StorageBackend == config.StorageMemory {
		a.logger.Warn("using in-memory storage; users and sessions are lost on restart")
		return memory.NewUserRepository(), memory.NewSessionStore(nil), nil
	}

	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)
	database.RegisterPoolMetrics(pool, "auth")

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	hh.RegisterCritical("postgres", pool.Ping)
	hh.RegisterCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return postgres.NewUserRepository(pool), redisrepo.NewSessionStore(client), nil
}

// Handler returns the HTTP handler serving the auth API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("storage", a.cfg.StorageBackend),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything NewApp may have opened. Nil members
// are skipped.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
