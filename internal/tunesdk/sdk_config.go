package tunesdk

import (
	"net/url"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:7938"
	DefaultTimeout = 0 // transfers of large media files must not time out
	DefaultRetries = 3
)

// Config is the configuration of the remote store client
type Config struct {
	BaseURL string        // BaseURL is required
	Token   string        // Token is the bearer token, optional when the server runs without auth
	Retries int           // Retries of idempotent requests, DefaultRetries when zero, none when negative
	Timeout time.Duration // Timeout per request, none when zero
	Debug   bool          // Debug dumps requests to the log
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrNoServerURL
	}
	return nil
}
