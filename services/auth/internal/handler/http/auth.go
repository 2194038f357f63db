package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httputil"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/service"
)

const maxBodyBytes = 1 << 20

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RefreshRequest is the JSON request body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// VerifyRequest is the JSON request body for token verification.
type VerifyRequest struct {
	Token string `json:"token"`
}

// --- Response types ---

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User         domain.UserView `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

// VerifyResponse is the service-to-service verification result.
type VerifyResponse struct {
	Valid bool             `json:"valid"`
	User  *domain.Identity `json:"user,omitempty"`
	Error string           `json:"error,omitempty"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// --- Handlers ---

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Register(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, AuthResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.Login(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AuthResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

// Refresh handles POST /refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tokens)
}

// Logout handles POST /logout. It always answers 200.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), httputil.BearerToken(r))
	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "logged out successfully"})
}

// Verify handles POST /verify. The token is read from a JSON body and,
// failing that, from the Authorization header; a non-JSON body is ignored.
// Failures are reported in the body as {valid:false} rather than in the
// error envelope.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if hasJSONBody(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, VerifyResponse{Valid: false, Error: "invalid request body"})
			return
		}
	}
	if req.Token == "" {
		req.Token = httputil.BearerToken(r)
	}

	identity, err := h.service.Verify(r.Context(), req.Token)
	if err != nil {
		msg := "invalid or expired token"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		httputil.WriteJSON(w, http.StatusUnauthorized, VerifyResponse{Valid: false, Error: msg})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: identity})
}

// ChangePassword handles POST /change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("user not authenticated"), h.logger)
		return
	}

	var input service.ChangePasswordInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "password changed successfully"})
}

// decodeJSON reads at most maxBodyBytes of JSON into dst. An empty body
// leaves dst at its zero value so that the service reports the missing
// fields itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	return nil
}
