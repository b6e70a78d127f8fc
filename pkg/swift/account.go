package swift

import (
	"context"
	"encoding/json"
	"net/http"
)

// Container is a server-side container listing entry. Count and Bytes are
// advisory; they change continuously.
type Container struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// ListContainers returns the account's containers.
//
// An empty account yields an empty (non-nil) slice; errors yield a nil
// slice, so callers can tell "no containers" from "listing failed".
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	resp, err := c.doAuthed(ctx, func(token, storageURL string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, storageURL+"?format=json", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp)
	}

	containers := []Container{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
			return nil, err
		}
	}
	return containers, nil
}

// SetAccountMeta sets one account metadata entry via the
// X-Account-Meta-<key> header convention.
func (c *Client) SetAccountMeta(ctx context.Context, key, value string) error {
	resp, err := c.doAuthed(ctx, func(token, storageURL string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, storageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", token)
		req.Header.Set("X-Account-Meta-"+key, value)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp)
	}
	return nil
}

// HeadAccount returns the account response headers, used to verify that
// metadata writes were accepted.
func (c *Client) HeadAccount(ctx context.Context) (http.Header, error) {
	resp, err := c.doAuthed(ctx, func(token, storageURL string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, storageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp)
	}
	return resp.Header, nil
}
