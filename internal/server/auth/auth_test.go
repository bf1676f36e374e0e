package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestAuthConfig() *Config {
	return &Config{
		Enabled:           true,
		TokenIssuer:       "https://tunesync.test",
		AccessTokenSecret: "access-secret-0123456789",
		AccessTokenExpiry: time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := getTestAuthConfig()
	assert.NoError(t, cfg.Validate())

	cfg.AccessTokenSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg = getTestAuthConfig()
	cfg.TokenIssuer = ""
	assert.Error(t, cfg.Validate())

	cfg.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := NewAuthService(getTestAuthConfig())
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "alice@example.com")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, AccessToken, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthService_IssueToken_InvalidUser(t *testing.T) {
	svc := NewAuthService(getTestAuthConfig())
	_, err := svc.IssueToken(context.Background(), "not-an-email")
	assert.Error(t, err)
}

func TestAuthService_Disabled(t *testing.T) {
	cfg := getTestAuthConfig()
	cfg.Enabled = false
	svc := NewAuthService(cfg)

	assert.False(t, svc.IsEnabled())
	_, err := svc.IssueToken(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrAuthDisabled)
	assert.Equal(t, defaultAnonymousUser, svc.AnonymousUser())

	cfg.AnonymousUser = "me@home.lan"
	assert.Equal(t, "me@home.lan", svc.AnonymousUser())
}

func TestAuthService_ValidateAccessToken_Rejects(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewAuthService(cfg)
	ctx := context.Background()

	_, err := svc.ValidateAccessToken(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = svc.ValidateAccessToken(ctx, "invalid.token.string")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	wrongSecret, err := NewToken("alice@example.com", cfg.TokenIssuer, "another-secret-0123456789", time.Minute, AccessToken)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(ctx, wrongSecret)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	wrongIssuer, err := NewToken("alice@example.com", "https://elsewhere", cfg.AccessTokenSecret, time.Minute, AccessToken)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(ctx, wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	wrongType, err := NewToken("alice@example.com", cfg.TokenIssuer, cfg.AccessTokenSecret, time.Minute, TokenType("refresh"))
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(ctx, wrongType)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestParseClaims_Expired(t *testing.T) {
	cfg := getTestAuthConfig()
	claims := Claims{
		Type: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			Issuer:    cfg.TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AccessTokenSecret))
	require.NoError(t, err)

	_, err = ParseClaims(token, cfg.AccessTokenSecret, cfg.TokenIssuer)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseClaims_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{Type: AccessToken, RegisteredClaims: jwt.RegisteredClaims{Subject: "alice@example.com"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("access-secret-0123456789"))
	require.NoError(t, err)

	_, err = ParseClaims(token, "access-secret-0123456789", "")
	assert.Error(t, err)
}

func TestNewToken_NoExpiry(t *testing.T) {
	token, err := NewToken("alice@example.com", "iss", "access-secret-0123456789", 0, AccessToken)
	require.NoError(t, err)

	claims, err := ParseClaims(token, "access-secret-0123456789", "iss")
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}
