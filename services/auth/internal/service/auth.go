package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/validator"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/auth"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/repository"
)

// DefaultBcryptCost is the bcrypt work factor for password hashes.
const DefaultBcryptCost = 12

// DefaultOperationTimeout bounds each auth operation end to end.
const DefaultOperationTimeout = 5 * time.Second

const msgInvalidCredentials = "invalid credentials"

// EventPublisher receives user lifecycle events. Delivery is best-effort.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishUserLoggedIn(ctx context.Context, user *domain.User, at time.Time) error
	PublishUserUpdated(ctx context.Context, user *domain.User) error
	PublishPasswordChanged(ctx context.Context, userID string) error
}

// Options tune an AuthService. Zero values select the defaults.
type Options struct {
	BcryptCost       int
	OperationTimeout time.Duration
	Now              func() time.Time
}

// AuthService implements registration, login, refresh rotation, logout and
// token verification on top of a credential store and a session store.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionStore
	tokens   auth.TokenService
	events   EventPublisher
	logger   *slog.Logger

	bcryptCost int
	timeout    time.Duration
	now        func() time.Time

	// dummyHash is compared against when the email is unknown so that login
	// latency does not reveal whether an account exists.
	dummyHash []byte
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionStore,
	tokens auth.TokenService,
	events EventPublisher,
	logger *slog.Logger,
	opts Options,
) (*AuthService, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = DefaultBcryptCost
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &AuthService{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		events:     events,
		logger:     logger,
		bcryptCost: opts.BcryptCost,
		timeout:    opts.OperationTimeout,
		now:        opts.Now,
		dummyHash:  dummy,
	}, nil
}

// --- Inputs ---

// RegisterInput holds the parameters for registering a new user. bcrypt
// ignores input past 72 bytes, so longer passwords are rejected.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Username  string `json:"username" validate:"required,alphanum,min=3,max=30"`
	FirstName string `json:"firstName" validate:"required,min=1,max=50"`
	LastName  string `json:"lastName" validate:"required,min=1,max=50"`
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileInput holds the optional profile fields to change.
type UpdateProfileInput struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=50"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1,max=50"`
}

// ChangePasswordInput holds the parameters for a password change.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   domain.UserView
	Tokens *domain.TokenPair
}

// --- Auth operations ---

// Register validates the input, creates the user and opens a session.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (_ *AuthResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer observe("register", &err)

	if err := validate(input); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmailOrUsername(ctx, input.Email, input.Username)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, apperrors.Conflict("user with this email or username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: string(hash),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The store's unique constraints settle races the pre-check cannot see.
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return &AuthResult{User: user.View(), Tokens: tokens}, nil
}

// Login checks the credentials and replaces the user's session. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (_ *AuthResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer observe("login", &err)

	if err := validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get user by email: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	tokens, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		user.LastLoginAt = &now
	}

	if err := s.events.PublishUserLoggedIn(ctx, user, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.logged_in event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &AuthResult{User: user.View(), Tokens: tokens}, nil
}

// Refresh rotates a refresh token. The presented token must be the one
// currently stored for its user; anything else, including a token that was
// already rotated out, is rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *domain.TokenPair, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer observe("refresh", &err)

	if refreshToken == "" {
		return nil, apperrors.Unauthorized("refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	stored, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, apperrors.Unauthorized("refresh token has been revoked")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashToken(refreshToken))) != 1 {
		s.logger.WarnContext(ctx, "refresh token does not match session",
			slog.String("user_id", claims.ID),
		)
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}

	user, err := s.users.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", claims.ID)
		}
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}

	tokens, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tokens refreshed", slog.String("user_id", user.ID))

	return tokens, nil
}

// Logout deletes the session of the access token's user. It never fails:
// a missing, forged or undecodable token is ignored and store errors are
// only logged. Expired access tokens are still honored.
func (s *AuthService) Logout(ctx context.Context, accessToken string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if accessToken == "" {
		AuthOperations.WithLabelValues("logout", outcomeSuccess).Inc()
		return
	}

	claims, err := s.tokens.ParseAccessIgnoringExpiry(accessToken)
	if err != nil {
		s.logger.DebugContext(ctx, "logout with undecodable token", slog.String("error", err.Error()))
		AuthOperations.WithLabelValues("logout", outcomeSuccess).Inc()
		return
	}

	if err := s.sessions.Delete(ctx, claims.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete session on logout",
			slog.String("user_id", claims.ID),
			slog.String("error", err.Error()),
		)
		AuthOperations.WithLabelValues("logout", outcomeError).Inc()
		return
	}

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.ID))
	AuthOperations.WithLabelValues("logout", outcomeSuccess).Inc()
}

// Verify checks an access token and returns the identity it carries. It does
// not consult the session store, so an access token stays valid after
// logout until it expires.
func (s *AuthService) Verify(_ context.Context, accessToken string) (_ *domain.Identity, err error) {
	defer observe("verify", &err)

	if accessToken == "" {
		return nil, apperrors.Unauthorized("token is required")
	}

	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}

	id := claims.Identity()
	return &id, nil
}

// --- Profile operations ---

// GetProfile returns the view of the given user.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.UserView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}

	view := user.View()
	return &view, nil
}

// UpdateProfile changes the user's first and/or last name.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (_ *domain.UserView, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer observe("update_profile", &err)

	if err := validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := s.events.PublishUserUpdated(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.updated event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user profile updated", slog.String("user_id", user.ID))

	view := user.View()
	return &view, nil
}

// ChangePassword verifies the current password, stores the new hash and
// ends the user's session so every device has to log in again.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, input ChangePasswordInput) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer observe("change_password", &err)

	if err := validate(input); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.CurrentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hash)
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.sessions.Delete(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete session after password change",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.PublishPasswordChanged(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_changed event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))

	return nil
}

// --- Helpers ---

// openSession issues a token pair and makes its refresh token the only
// valid one for the user.
func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	if err := s.sessions.Put(ctx, user.ID, hashToken(tokens.RefreshToken), s.tokens.RefreshExpiry()); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return tokens, nil
}

// hashToken returns the SHA256 hex digest of the given token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// validate runs struct validation and converts a failure into a 400 that
// lists every invalid field.
func validate(input any) error {
	err := validator.Validate(input)
	if err == nil {
		return nil
	}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return apperrors.ValidationFailed(verr.Fields())
	}
	return apperrors.InvalidInput(err.Error())
}

// observe records the outcome of an operation once it returns.
func observe(operation string, errp *error) {
	outcome := outcomeSuccess
	if err := *errp; err != nil {
		outcome = outcomeError
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Status < 500 {
			outcome = outcomeFailure
		}
	}
	AuthOperations.WithLabelValues(operation, outcome).Inc()
}
