package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/logger"
)

// UserIDHeader is set by the gateway once a caller has been verified.
const UserIDHeader = "X-User-ID"

// RequestLogger returns middleware that builds a request-scoped logger enriched
// with correlation_id, user_id, trace_id and span_id, then stores it in
// context via logger.NewContext. Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID := UserIDFromContext(ctx)
			if userID == "" {
				userID = r.Header.Get(UserIDHeader)
			}
			if userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
