package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httputil"
	pkgmiddleware "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/authclient"
)

// Identity headers forwarded to upstream services.
const (
	HeaderUserID   = pkgmiddleware.UserIDHeader
	HeaderEmail    = "X-User-Email"
	HeaderUsername = "X-Username"
)

var identityHeaders = []string{HeaderUserID, HeaderEmail, HeaderUsername}

// publicPrefixes are reachable without a bearer token.
var publicPrefixes = []string{
	"/api/v1/auth",
	"/health",
}

// Verifier resolves a bearer token to the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*authclient.Identity, error)
}

func isPublic(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	for _, prefix := range publicPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// VerifyAuth gates non-public routes on the auth service's verdict and
// forwards the verified identity upstream as headers. Identity headers sent
// by the client are always dropped.
func VerifyAuth(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range identityHeaders {
				r.Header.Del(h)
			}

			if isPublic(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := httputil.BearerToken(r)
			if token == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing or malformed authorization header"), logger)
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, authclient.ErrInvalidToken) {
					httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), logger)
					return
				}
				logger.ErrorContext(r.Context(), "token verification failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				httputil.WriteError(w, r, apperrors.ServiceUnavailable("authentication service unavailable"), logger)
				return
			}

			r.Header.Set(HeaderUserID, id.ID)
			r.Header.Set(HeaderEmail, id.Email)
			r.Header.Set(HeaderUsername, id.Username)

			ctx := pkgmiddleware.WithClaims(r.Context(), &pkgmiddleware.Claims{
				UserID:   id.ID,
				Email:    id.Email,
				Username: id.Username,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
