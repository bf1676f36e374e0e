package auth

import (
	"fmt"
	"time"
)

const DefaultTokenExpiry = 90 * 24 * time.Hour

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	TokenIssuer       string        `mapstructure:"token_issuer"`
	AccessTokenSecret string        `mapstructure:"access_token_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	// AnonymousUser owns every request while auth is disabled
	AnonymousUser string `mapstructure:"anonymous_user"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TokenIssuer == "" {
		return fmt.Errorf("auth `token_issuer` is required when auth is enabled")
	}
	if len(c.AccessTokenSecret) < 16 {
		return fmt.Errorf("auth `access_token_secret` must be at least 16 characters")
	}
	if c.AccessTokenExpiry < 0 {
		return fmt.Errorf("auth `access_token_expiry` must not be negative")
	}
	return nil
}
