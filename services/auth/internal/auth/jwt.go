package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
)

// ErrInvalidToken is wrapped by every verification failure: bad signature,
// expiry, malformed input or a token of the wrong kind.
var ErrInvalidToken = errors.New("invalid token")

const (
	issuer = "auth-service"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Default lifetimes.
const (
	DefaultAccessExpiry  = 15 * time.Minute
	DefaultRefreshExpiry = 7 * 24 * time.Hour
)

// AccessClaims are carried by an access token.
type AccessClaims struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity embedded in the token.
func (c *AccessClaims) Identity() domain.Identity {
	return domain.Identity{ID: c.ID, Email: c.Email, Username: c.Username}
}

// RefreshClaims are carried by a refresh token. Only the user ID is embedded.
type RefreshClaims struct {
	ID        string `json:"id"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies token pairs. Implementations are pure:
// they never consult the session store.
type TokenService interface {
	Issue(user *domain.User) (*domain.TokenPair, error)
	VerifyAccess(token string) (*AccessClaims, error)
	VerifyRefresh(token string) (*RefreshClaims, error)
	// ParseAccessIgnoringExpiry checks the signature of an access token but
	// accepts it after expiry. Only logout uses it.
	ParseAccessIgnoringExpiry(token string) (*AccessClaims, error)
	RefreshExpiry() time.Duration
}

// JWTManager is the HMAC-SHA256 TokenService.
type JWTManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// Option configures a JWTManager.
type Option func(*JWTManager)

// WithClock replaces the wall clock used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(m *JWTManager) { m.now = now }
}

// NewJWTManager creates a new JWT manager with the given secret and expiry durations.
func NewJWTManager(secret string, accessExpiry, refreshExpiry time.Duration, opts ...Option) *JWTManager {
	m := &JWTManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RefreshExpiry returns the refresh token lifetime, which is also the session TTL.
func (m *JWTManager) RefreshExpiry() time.Duration {
	return m.refreshExpiry
}

// Issue signs a fresh access/refresh pair for user. Each token gets a random
// jti so two pairs issued within the same second still differ.
func (m *JWTManager) Issue(user *domain.User) (*domain.TokenPair, error) {
	now := m.now().UTC()

	access, err := m.sign(&AccessClaims{
		ID:               user.ID,
		Email:            user.Email,
		Username:         user.Username,
		TokenType:        tokenTypeAccess,
		RegisteredClaims: m.registered(user.ID, now, m.accessExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.sign(&RefreshClaims{
		ID:               user.ID,
		TokenType:        tokenTypeRefresh,
		RegisteredClaims: m.registered(user.ID, now, m.refreshExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess parses and validates an access token, returning the claims.
func (m *JWTManager) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenString, claims, tokenTypeAccess, &claims.TokenType, jwt.WithTimeFunc(m.now)); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token, returning the claims.
func (m *JWTManager) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenString, claims, tokenTypeRefresh, &claims.TokenType, jwt.WithTimeFunc(m.now)); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseAccessIgnoringExpiry implements TokenService.
func (m *JWTManager) ParseAccessIgnoringExpiry(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenString, claims, tokenTypeAccess, &claims.TokenType, jwt.WithoutClaimsValidation()); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) registered(userID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// parse verifies signature and claims, then checks that the token is of the
// wanted kind. gotType points at the claims' type field.
func (m *JWTManager) parse(tokenString string, claims jwt.Claims, wantType string, gotType *string, opts ...jwt.ParserOption) error {
	if tokenString == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	opts = append(opts, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: token not valid", ErrInvalidToken)
	}
	if *gotType != wantType {
		return fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, wantType, *gotType)
	}
	return nil
}
