package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/health"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httpclient"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/tracing"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/authclient"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/config"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/handler"
	gwmiddleware "github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/proxy"
)

// App wires together all dependencies and runs the API gateway.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	limiter        *gwmiddleware.RateLimiter
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance. The gateway holds no storage;
// its only stateful component is the in-process rate limiter.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	sp, err := proxy.NewServiceProxy(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init proxy: %w", err)
	}

	// Verify calls go through a breaker so a failing auth service is shed fast.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.VerifyTimeout,
		MaxRetries:      cfg.VerifyMaxRetries,
		RetryWaitMin:    50 * time.Millisecond,
		RetryWaitMax:    200 * time.Millisecond,
		MaxConnsPerHost: 100,
	})
	cbCfg := httpclient.DefaultBreakerConfig("gateway-auth-verify")
	cbCfg.OpenFor = cfg.BreakerTimeout
	cbCfg.TripRatio = cfg.BreakerFailureRatio
	cbCfg.MinSamples = cfg.BreakerMinRequests
	cbClient := httpclient.NewBreaker(baseClient, cbCfg, logger).
		WithFallback(authclient.CircuitOpenFallback)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Duration("open_for", cbCfg.OpenFor),
		slog.Uint64("min_samples", uint64(cbCfg.MinSamples)),
	)

	healthHandler := health.NewHandler()
	healthHandler.RegisterNonCritical("auth-service", dialCheck(cfg.AuthServiceURL))
	healthHandler.RegisterNonCritical("api-service", dialCheck(cfg.APIServiceURL))

	limiter := gwmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	router := handler.NewRouter(cfg, handler.Deps{
		Proxy:       sp,
		Verifier:    authclient.New(cbClient, cfg.AuthServiceURL),
		RateLimiter: limiter,
		Health:      healthHandler,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ProxyResponseTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		httpServer:     httpServer,
		limiter:        limiter,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// dialCheck reports whether the upstream at rawURL accepts TCP connections.
func dialCheck(rawURL string) health.Checker {
	return func(ctx context.Context) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("parse upstream URL: %w", err)
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return fmt.Errorf("upstream unreachable: %w", err)
		}
		_ = conn.Close()
		return nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.limiter.Close()
		return err
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, then stops the limiter sweep and
// flushes pending spans.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.limiter.Close()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
