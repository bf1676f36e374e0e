package tunesdk

import (
	"context"
	"encoding/base64"
	"fmt"
)

const v1KeysServer = "/api/v1/keys/server"

// ServerKey fetches the caller's server held encryption key
func (c *Client) ServerKey(ctx context.Context) ([]byte, error) {
	var apiResp ServerKeyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1KeysServer)

	if err := handleAPIError(resp, err, "server key"); err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(apiResp.Key)
	if err != nil {
		return nil, fmt.Errorf("sdk: server key: %w", err)
	}
	return key, nil
}
