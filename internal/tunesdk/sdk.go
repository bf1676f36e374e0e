package tunesdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tunebox/tunesync/internal/utils"
	"github.com/tunebox/tunesync/internal/version"
)

const v1Health = "/healthz"

// Client talks to the remote store REST API
type Client struct {
	client *req.Client
	stats  *httpStats
	cfg    Config
}

// New creates a client for the remote store
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	retries := cfg.Retries
	switch {
	case retries == 0:
		retries = DefaultRetries
	case retries < 0:
		retries = 0
	}

	stats := newHTTPStats()
	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderClientVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, utils.HWID()).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(retries).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.GetStatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		}).
		SetCommonRetryHook(func(resp *req.Response, err error) {
			slog.Debug("sdk retry", "url", resp.Request.RawURL, "status", resp.GetStatusCode(), "error", err)
		}).
		OnAfterResponse(func(_ *req.Client, resp *req.Response) error {
			stats.requests.Add(1)
			if resp.Err != nil {
				stats.setLastError(resp.Err)
			}
			return nil
		}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}
	if cfg.Debug {
		client.EnableDumpEachRequest()
	}

	return &Client{client: client, stats: stats, cfg: *cfg}, nil
}

// BaseURL of the remote store
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Stats returns the traffic counters of this client
func (c *Client) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// Health checks that the server is reachable
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		Get(v1Health)
	if err := handleAPIError(resp, err, "health"); err != nil {
		return err
	}
	if resp.GetStatusCode() != http.StatusOK {
		return fmt.Errorf("sdk: health: %w", apiErrorFromStatus(resp.GetStatusCode(), resp.String()))
	}
	return nil
}

// Close releases idle connections
func (c *Client) Close() {
	c.client.GetClient().CloseIdleConnections()
}
