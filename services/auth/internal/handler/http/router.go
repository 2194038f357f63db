package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/health"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/service"
)

// ServiceName is reported by /health and used for metrics and traces.
const ServiceName = "auth-service"

// NewRouter creates a chi router with all auth service routes registered.
// Paths are unprefixed; the gateway strips /api/v1/auth before proxying.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig middleware.CORSConfig,
	pprofAllowedCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("auth"))
	r.Use(middleware.CORS(corsConfig))

	// Health check endpoints
	r.Get("/health", health.ServiceHandler(ServiceName))
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(pprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, pprofAllowedCIDRs, logger)
	}

	authHandler := NewAuthHandler(authService, logger)
	userHandler := NewUserHandler(authService, logger)

	// Public endpoints
	r.Group(func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
	})

	// Logout never fails and verify answers in its own shape, so neither
	// goes through the media type gate.
	r.Post("/logout", authHandler.Logout)
	r.Post("/verify", authHandler.Verify)

	// Bridges the middleware's token check to the service's local verification.
	tokenValidator := func(ctx context.Context, token string) (*middleware.Claims, error) {
		id, err := authService.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: id.ID, Email: id.Email, Username: id.Username}, nil
	}

	// Authenticated endpoints
	r.Group(func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/me", userHandler.GetProfile)
		r.Put("/me", userHandler.UpdateProfile)
		r.Post("/change-password", authHandler.ChangePassword)
	})

	return r
}
