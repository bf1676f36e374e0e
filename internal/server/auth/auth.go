package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tunebox/tunesync/internal/utils"
)

const defaultAnonymousUser = "anonymous@tunesync.local"

var (
	ErrAuthDisabled       = errors.New("auth is disabled")
	ErrInvalidAccessToken = errors.New("invalid access token")
)

type AuthService struct {
	config *Config
}

func NewAuthService(config *Config) *AuthService {
	return &AuthService{config: config}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// AnonymousUser is the identity used for every request while auth is disabled
func (s *AuthService) AnonymousUser() string {
	if s.config.AnonymousUser != "" {
		return s.config.AnonymousUser
	}
	return defaultAnonymousUser
}

// IssueToken creates an access token for user
func (s *AuthService) IssueToken(ctx context.Context, user string) (string, error) {
	if !s.IsEnabled() {
		return "", ErrAuthDisabled
	}
	if err := utils.ValidateEmail(user); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	expiry := s.config.AccessTokenExpiry
	token, err := NewToken(user, s.config.TokenIssuer, s.config.AccessTokenSecret, expiry, AccessToken)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	slog.Debug("token issued", "user", user, "expiry", expiry)
	return token, nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret, s.config.TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}

	if claims.Type != AccessToken {
		return nil, fmt.Errorf("%w: wrong token type %q", ErrInvalidAccessToken, claims.Type)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidAccessToken)
	}

	return claims, nil
}
