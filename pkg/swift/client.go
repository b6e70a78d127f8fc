// Package swift provides the authenticated HTTP client for the
// S3-compatible (Swift/Haio) object-store account endpoints.
package swift

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/fault"
	"github.com/haio-cloud/haio-client/pkg/metrics"
)

// CredentialSource provides saved credentials and receives refreshed ones.
// *creds.Store satisfies it.
type CredentialSource interface {
	Load(username string) (token, password string, err error)
	SetToken(username, token string) error
	SetStorageURL(username, url string) error
	StorageURL(username string) (string, error)
}

// Options tunes the client. Zero values fall back to the defaults below.
type Options struct {
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay == 0 {
		o.RetryMaxDelay = 4 * time.Second
	}
}

// Client is the object-store API client for one account.
//
// The token and storage URL are cached in memory and persisted through the
// CredentialSource. A 401 on any authenticated call triggers exactly one
// transparent re-authentication when a saved password is available.
type Client struct {
	baseURL    string
	username   string
	httpClient *http.Client
	opts       Options
	creds      CredentialSource

	mu         sync.Mutex
	token      string
	storageURL string
}

// New creates a client for username against the given base URL.
func New(baseURL, username string, creds CredentialSource, opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		opts:       opts,
		creds:      creds,
	}
}

// Username returns the account this client authenticates as.
func (c *Client) Username() string {
	return c.username
}

// BaseURL returns the object-store base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the cached auth token, or "" before authentication.
func (c *Client) Token() string {
	c.restoreSession()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// StorageURL returns the cached storage URL, loading it from the credential
// source on first use.
func (c *Client) StorageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storageURL
}

// restoreSession loads a cached token and storage URL from the credential
// source if the in-memory session is empty.
func (c *Client) restoreSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return
	}
	token, _, err := c.creds.Load(c.username)
	if err != nil || token == "" {
		return
	}
	storageURL, err := c.creds.StorageURL(c.username)
	if err != nil || storageURL == "" {
		return
	}
	c.token = token
	c.storageURL = storageURL
}

// do executes req with transient-error retries for idempotent methods.
// The caller owns the response body.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead

	var lastErr error
	attempts := 1
	if idempotent {
		attempts = c.opts.RetryAttempts
	}

	delay := c.opts.RetryBaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		resp, err := c.httpClient.Do(req.Clone(ctx))
		metrics.APIRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isTransient(err) || attempt == attempts {
			break
		}

		logger.Debug("retrying request",
			logger.KeyURL, redactURL(req.URL),
			logger.KeyAttempt, attempt,
			logger.KeyError, err.Error())

		select {
		case <-ctx.Done():
			return nil, classifyNetErr(ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.RetryMaxDelay {
			delay = c.opts.RetryMaxDelay
		}
	}

	return nil, classifyNetErr(lastErr)
}

// doAuthed executes an authenticated request against the storage URL,
// re-authenticating once on 401 when a saved password exists.
//
// build constructs a fresh request (requests cannot be replayed after the
// token changes). The caller owns the response body of a non-nil response.
func (c *Client) doAuthed(ctx context.Context, build func(token, storageURL string) (*http.Request, error)) (*http.Response, error) {
	c.restoreSession()

	token, storageURL, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	req, err := build(token, storageURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	// Token expired. One transparent re-authentication if we have a password.
	_, password, err := c.creds.Load(c.username)
	if err != nil || password == "" {
		return nil, fault.New(fault.AuthExpired, "session expired and no saved password")
	}

	if _, err := c.Authenticate(ctx, password); err != nil {
		return nil, err
	}

	token, storageURL, err = c.session(ctx)
	if err != nil {
		return nil, err
	}
	req, err = build(token, storageURL)
	if err != nil {
		return nil, err
	}
	resp, err = c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, fault.New(fault.AuthInvalid, "authentication rejected after refresh")
	}
	return resp, nil
}

// session returns the current token and storage URL, or AuthInvalid when
// the client has never authenticated.
func (c *Client) session(ctx context.Context) (token, storageURL string, err error) {
	c.mu.Lock()
	token, storageURL = c.token, c.storageURL
	c.mu.Unlock()

	if token == "" {
		// Try a fresh login with the saved password before giving up.
		_, password, loadErr := c.creds.Load(c.username)
		if loadErr != nil || password == "" {
			return "", "", fault.New(fault.AuthInvalid, "not authenticated")
		}
		if _, err := c.Authenticate(ctx, password); err != nil {
			return "", "", err
		}
		c.mu.Lock()
		token, storageURL = c.token, c.storageURL
		c.mu.Unlock()
	}

	if storageURL == "" {
		return "", "", fault.New(fault.AuthInvalid, "no storage URL for account")
	}
	return token, storageURL, nil
}

// httpError converts a non-2xx response into a typed error, consuming the body.
func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fault.New(fault.AuthInvalid, detail)
	default:
		return fault.New(fault.ServerError, detail).WithStatus(resp.StatusCode)
	}
}

// classifyNetErr maps transport-level failures to the stable network kinds.
func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fault.Wrap(fault.NetworkTimeout, "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.NetworkTimeout, "request timed out", err)
	}
	return fault.Wrap(fault.NetworkError, "request failed", err)
}

// isTransient reports whether a transport error is worth retrying.
// HTTP-level responses (even 5xx) are not retried here; only failures to
// complete the exchange.
func isTransient(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// redactURL strips query parameters before logging.
func redactURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
