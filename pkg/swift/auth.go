package swift

import (
	"context"
	"net/http"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

// Authenticate performs the v1.0 auth exchange and caches the returned
// token and storage URL, persisting both through the credential source.
//
// Wire contract: GET <base>/auth/v1.0 with X-Auth-User "<account>:<username>"
// and X-Auth-Key "<password>"; success is any 2xx carrying X-Auth-Token and
// X-Storage-Url headers.
func (c *Client) Authenticate(ctx context.Context, password string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1.0", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Auth-User", c.username+":"+c.username)
	req.Header.Set("X-Auth-Key", password)

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fault.New(fault.AuthInvalid, "invalid username or password")
		}
		return "", fault.Newf(fault.ServerError, "authentication failed: %s", resp.Status).WithStatus(resp.StatusCode)
	}

	token := resp.Header.Get("X-Auth-Token")
	storageURL := resp.Header.Get("X-Storage-Url")
	if token == "" || storageURL == "" {
		return "", fault.New(fault.ServerError, "auth response missing token or storage URL").WithStatus(resp.StatusCode)
	}

	c.mu.Lock()
	c.token = token
	c.storageURL = storageURL
	c.mu.Unlock()

	if err := c.creds.SetToken(c.username, token); err != nil {
		return "", err
	}
	if err := c.creds.SetStorageURL(c.username, storageURL); err != nil {
		return "", err
	}

	logger.Info("authenticated", logger.KeyAccount, c.username)
	return token, nil
}
