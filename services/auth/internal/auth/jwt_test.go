package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/auth/internal/domain"
)

const testSecret = "test-secret-key-for-testing-only-0123456789"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(clock *fakeClock) *JWTManager {
	return NewJWTManager(testSecret, DefaultAccessExpiry, DefaultRefreshExpiry, WithClock(clock.Now))
}

func testUser() *domain.User {
	return &domain.User{ID: "user-1", Email: "a@x.com", Username: "abc"}
}

func TestIssue_AccessClaimsRoundTrip(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})

	pair, err := m.Issue(testUser())
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: "user-1", Email: "a@x.com", Username: "abc"}, claims.Identity())
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotEmpty(t, claims.RegisteredClaims.ID)
}

func TestIssue_RefreshCarriesOnlyID(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	claims, err := m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.ID)

	// The payload must not leak email or username.
	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(pair.RefreshToken, raw)
	require.NoError(t, err)
	assert.NotContains(t, raw, "email")
	assert.NotContains(t, raw, "username")
}

func TestIssue_Expiries(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	access, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(15*time.Minute), access.ExpiresAt.Time.UTC())

	refresh, err := m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(7*24*time.Hour), refresh.ExpiresAt.Time.UTC())
	assert.Equal(t, 7*24*time.Hour, m.RefreshExpiry())
}

func TestIssue_SameSecondPairsDiffer(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})

	a, err := m.Issue(testUser())
	require.NoError(t, err)
	b, err := m.Issue(testUser())
	require.NoError(t, err)

	assert.NotEqual(t, a.AccessToken, b.AccessToken)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
}

func TestVerifyAccess_ExpiredWithSimulatedClock(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	_, err = m.VerifyAccess(pair.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyRefresh_ExpiredAfterSevenDays(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(6 * 24 * time.Hour)
	_, err = m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = m.VerifyRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	pair, err := newTestManager(clock).Issue(testUser())
	require.NoError(t, err)

	other := NewJWTManager("another-secret-entirely-0123456789abcdef", DefaultAccessExpiry, DefaultRefreshExpiry, WithClock(clock.Now))

	_, err = other.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = other.VerifyRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})
	now := time.Now()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodNone, &AccessClaims{
		ID:        "user-1",
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.VerifyAccess(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_TokenKindsAreNotInterchangeable(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	m := newTestManager(&fakeClock{t: time.Now()})

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := m.VerifyAccess(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestParseAccessIgnoringExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(clock)

	pair, err := m.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(time.Hour)

	claims, err := m.ParseAccessIgnoringExpiry(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.ID)

	other := NewJWTManager("another-secret-entirely-0123456789abcdef", DefaultAccessExpiry, DefaultRefreshExpiry)
	_, err = other.ParseAccessIgnoringExpiry(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ParseAccessIgnoringExpiry(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
