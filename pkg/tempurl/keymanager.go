package tempurl

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

// MetaKey is the account metadata key holding the signing key.
const MetaKey = "Temp-URL-Key"

// echoHeader is the header under which the server echoes the metadata.
const echoHeader = "X-Account-Meta-Temp-Url-Key"

// keyBytes is the raw size of a generated signing key.
const keyBytes = 32

// AccountAPI is the slice of the object-store client the key manager needs.
type AccountAPI interface {
	SetAccountMeta(ctx context.Context, key, value string) error
	HeadAccount(ctx context.Context) (http.Header, error)
}

// KeyStore persists the signing key per account. *creds.Store satisfies it.
type KeyStore interface {
	TempURLKey(username string) (string, error)
	SetTempURLKey(username, key string) error
}

// Manager owns the account-scoped signing key lifecycle: generate on first
// use, install on the server, verify the echo, and reset on demand.
type Manager struct {
	username string
	api      AccountAPI
	store    KeyStore
}

// NewManager creates a key manager for one account.
func NewManager(username string, api AccountAPI, store KeyStore) *Manager {
	return &Manager{username: username, api: api, store: store}
}

// EnsureKey returns the local signing key, generating and installing one on
// the server when none exists yet.
//
// The key is only stored locally after the server echoes it back on a HEAD,
// so a local key always matches the server (invariant: mismatch forces a
// reset, never a silent divergence).
func (m *Manager) EnsureKey(ctx context.Context) (string, error) {
	key, err := m.store.TempURLKey(m.username)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}

	key, err = generateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}

	if err := m.api.SetAccountMeta(ctx, MetaKey, key); err != nil {
		return "", err
	}

	headers, err := m.api.HeadAccount(ctx)
	if err != nil {
		return "", err
	}
	if headers.Get(echoHeader) != key {
		return "", fault.New(fault.TempURLKeyNotAccepted, "server did not accept the temp-URL key")
	}

	if err := m.store.SetTempURLKey(m.username, key); err != nil {
		return "", err
	}

	logger.Info("temp-URL signing key installed", logger.KeyAccount, m.username)
	return key, nil
}

// Reset wipes the local key. The next EnsureKey call regenerates and
// re-installs it.
func (m *Manager) Reset() error {
	return m.store.SetTempURLKey(m.username, "")
}

// NoteDesync records that a signed URL was rejected with 401, which means
// the local key no longer matches the server. The fix is a Reset.
func (m *Manager) NoteDesync() error {
	logger.Warn("temp-URL key desync detected, reset required",
		logger.KeyAccount, m.username,
		logger.KeyErrorKind, string(fault.TempURLKeyDesync))
	return fault.New(fault.TempURLKeyDesync, "signed URL rejected by server; reset the signing key")
}

// generateKey returns 32 random bytes encoded URL-safe base64.
func generateKey() (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
