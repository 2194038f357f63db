package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/health"
	pkgmiddleware "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/config"
	gwmiddleware "github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/proxy"
)

// ServiceName labels the gateway in logs, metrics and traces.
const ServiceName = "gateway"

// Deps are the collaborators the router mounts.
type Deps struct {
	Proxy       *proxy.ServiceProxy
	Verifier    gwmiddleware.Verifier
	RateLimiter *gwmiddleware.RateLimiter
	Health      *health.Handler
}

// NewRouter creates a chi router with global middleware, health endpoints,
// and the authenticated proxy routes.
func NewRouter(cfg *config.Config, deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	corsCfg := pkgmiddleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	r.Use(pkgmiddleware.Recovery(logger))
	r.Use(pkgmiddleware.RequestLogging(logger))
	r.Use(pkgmiddleware.Tracing(ServiceName))
	r.Use(pkgmiddleware.RequestLogger(logger))
	r.Use(pkgmiddleware.PrometheusMetrics(ServiceName))
	r.Use(pkgmiddleware.CORS(corsCfg))
	r.Use(deps.RateLimiter.Handler)
	r.Use(chimw.Timeout(cfg.ProxyResponseTimeout + 5*time.Second))

	r.Get("/health", health.ServiceHandler(ServiceName))
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())

	r.With(pkgmiddleware.IPAllowlist(cfg.MetricsAllowedCIDRs, logger)).
		Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofAllowedCIDRs) > 0 {
		pkgmiddleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	authProxy := deps.Proxy.Handler(proxy.Auth)
	apiProxy := deps.Proxy.Handler(proxy.API)

	r.Route("/api", func(r chi.Router) {
		r.Use(gwmiddleware.VerifyAuth(deps.Verifier, logger))

		r.Handle("/v1/auth", authProxy)
		r.Handle("/v1/auth/*", authProxy)
		r.Handle("/*", apiProxy)
	})

	return r
}
