package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/auth"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	motdtesting "github.com/MaxBossMan1/ddgmotdv2/testing"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTokens(t *testing.T, clock *fakeClock) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(motdtesting.JWTSecret, 7*24*time.Hour)
	require.NoError(t, err)
	return svc.WithClock(clock.Now)
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := auth.NewTokenService("", time.Hour)
	require.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tokens := newTokens(t, clock)

	token, expires, err := tokens.Issue(42, "mod_jane", rbac.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(7*24*time.Hour), expires)

	clock.t = clock.t.Add(7*24*time.Hour - time.Second)
	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "mod_jane", claims.Username)
	assert.Equal(t, rbac.RoleModerator, claims.Role)
}

func TestTokenExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tokens := newTokens(t, clock)

	token, _, err := tokens.Issue(1, "owner", rbac.RoleOwner)
	require.NoError(t, err)

	clock.t = clock.t.Add(7*24*time.Hour + time.Second)
	_, err = tokens.Verify(token)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestTokenTampered(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tokens := newTokens(t, clock)
	token, _, err := tokens.Issue(1, "user", rbac.RoleUser)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Flip one character in each segment.
	for i := range parts {
		mutated := append([]string(nil), parts...)
		seg := []byte(mutated[i])
		if seg[0] == 'A' {
			seg[0] = 'B'
		} else {
			seg[0] = 'A'
		}
		mutated[i] = string(seg)
		_, err := tokens.Verify(strings.Join(mutated, "."))
		require.ErrorIs(t, err, auth.ErrInvalidSignature, "segment %d", i)
	}

	_, err = tokens.Verify("not-a-token")
	require.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestTokenWrongSecretOrAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tokens := newTokens(t, clock)

	other, err := auth.NewTokenService("another-secret", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Issue(1, "user", rbac.RoleUser)
	require.NoError(t, err)
	_, err = tokens.Verify(foreign)
	require.ErrorIs(t, err, auth.ErrInvalidSignature)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ddgmotd",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(raw)
	require.ErrorIs(t, err, auth.ErrInvalidSignature)
}
