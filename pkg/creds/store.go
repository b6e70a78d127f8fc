// Package creds persists per-account credentials for the haio client.
//
// The store is a single accounts.json under the user config directory:
//
//	{ "<username>": { "token": "…", "password_enc": "…", "scheme": "keychain|b64", ... } }
//
// Passwords are never written in plaintext. The preferred scheme stores the
// password in the OS keychain and records scheme "keychain"; when no keychain
// backend is available the password is kept reversibly encoded in the file
// with scheme "b64". The b64 scheme is an obfuscation, not a secret store,
// and is recorded as such so callers can warn the user.
//
// Writes are atomic (write-temp-then-rename) and serialized by a
// process-wide mutex plus a cross-process file lock.
package creds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

const (
	accountsFile = "accounts.json"
	lockFile     = "accounts.lock"

	// SchemeKeychain stores the password in the OS keychain.
	SchemeKeychain = "keychain"
	// SchemeB64 keeps a reversible encoding in accounts.json. Not a secret.
	SchemeB64 = "b64"
)

// Account is the persisted record for one object-store identity.
type Account struct {
	Token       string `json:"token,omitempty"`
	PasswordEnc string `json:"password_enc,omitempty"`
	Scheme      string `json:"scheme,omitempty"`
	StorageURL  string `json:"storage_url,omitempty"`
	TempURLKey  string `json:"temp_url_key,omitempty"`
}

// Store reads and writes accounts.json.
type Store struct {
	mu       sync.Mutex
	dir      string
	flock    *flock.Flock
	keychain Keychain
}

// NewStore creates a store rooted at dir (the user config directory).
func NewStore(dir string) *Store {
	return &Store{
		dir:      dir,
		flock:    flock.New(filepath.Join(dir, lockFile)),
		keychain: systemKeychain{},
	}
}

// NewStoreWithKeychain creates a store with a custom keychain backend.
// Used by tests to avoid touching the OS keychain.
func NewStoreWithKeychain(dir string, kc Keychain) *Store {
	s := NewStore(dir)
	s.keychain = kc
	return s
}

// Save persists the token and, when password is non-empty, the password for
// username. An empty password leaves any previously saved password alone.
func (s *Store) Save(username, token, password string) error {
	return s.update(func(accounts map[string]*Account) error {
		acct := accounts[username]
		if acct == nil {
			acct = &Account{}
			accounts[username] = acct
		}
		acct.Token = token

		if password == "" {
			return nil
		}

		if err := s.keychain.Set(keychainService, username, password); err == nil {
			acct.Scheme = SchemeKeychain
			acct.PasswordEnc = ""
			return nil
		}

		// No keychain backend available; fall back to the reversible encoding.
		acct.Scheme = SchemeB64
		acct.PasswordEnc = base64.StdEncoding.EncodeToString([]byte(password))
		return nil
	})
}

// Load returns the saved token and password for username. A missing account
// yields empty strings. Password decryption failures degrade to "no saved
// password" rather than failing the load.
func (s *Store) Load(username string) (token, password string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return "", "", err
	}

	acct := accounts[username]
	if acct == nil {
		return "", "", nil
	}

	return acct.Token, s.decodePassword(username, acct), nil
}

// Forget removes the account, its keychain entry, and its token.
func (s *Store) Forget(username string) error {
	kcErr := s.keychain.Delete(keychainService, username)
	_ = kcErr // a missing keychain entry is not an error worth surfacing

	return s.update(func(accounts map[string]*Account) error {
		delete(accounts, username)
		return nil
	})
}

// ListKnown returns the usernames present in the store, sorted.
func (s *Store) ListKnown() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SetToken updates only the token for username.
func (s *Store) SetToken(username, token string) error {
	return s.update(func(accounts map[string]*Account) error {
		acct := accounts[username]
		if acct == nil {
			acct = &Account{}
			accounts[username] = acct
		}
		acct.Token = token
		return nil
	})
}

// SetStorageURL records the storage URL returned by authentication.
func (s *Store) SetStorageURL(username, url string) error {
	return s.update(func(accounts map[string]*Account) error {
		acct := accounts[username]
		if acct == nil {
			acct = &Account{}
			accounts[username] = acct
		}
		acct.StorageURL = url
		return nil
	})
}

// StorageURL returns the saved storage URL for username, or "".
func (s *Store) StorageURL(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return "", err
	}
	if acct := accounts[username]; acct != nil {
		return acct.StorageURL, nil
	}
	return "", nil
}

// SetTempURLKey records the account-scoped temp-URL signing key.
func (s *Store) SetTempURLKey(username, key string) error {
	return s.update(func(accounts map[string]*Account) error {
		acct := accounts[username]
		if acct == nil {
			acct = &Account{}
			accounts[username] = acct
		}
		acct.TempURLKey = key
		return nil
	})
}

// TempURLKey returns the saved signing key for username, or "".
func (s *Store) TempURLKey(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return "", err
	}
	if acct := accounts[username]; acct != nil {
		return acct.TempURLKey, nil
	}
	return "", nil
}

// Scheme returns the recorded password scheme for username, or "".
func (s *Store) Scheme(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return "", err
	}
	if acct := accounts[username]; acct != nil {
		return acct.Scheme, nil
	}
	return "", nil
}

// decodePassword resolves the password for acct according to its scheme.
// Any failure degrades to "".
func (s *Store) decodePassword(username string, acct *Account) string {
	switch acct.Scheme {
	case SchemeKeychain:
		pw, err := s.keychain.Get(keychainService, username)
		if err != nil {
			return ""
		}
		return pw
	case SchemeB64:
		raw, err := base64.StdEncoding.DecodeString(acct.PasswordEnc)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return ""
	}
}

// update performs a locked read-modify-write cycle on accounts.json.
func (s *Store) update(mutate func(map[string]*Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("failed to lock credential store: %w", err)
	}
	defer func() { _ = s.flock.Unlock() }()

	accounts, err := s.read()
	if err != nil {
		return err
	}

	if err := mutate(accounts); err != nil {
		return err
	}

	return s.write(accounts)
}

// read loads accounts.json. A missing file yields an empty map.
// Caller must hold s.mu.
func (s *Store) read() (map[string]*Account, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, accountsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Account{}, nil
		}
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}

	accounts := map[string]*Account{}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse credential store: %w", err)
	}
	return accounts, nil
}

// write persists accounts atomically: write a temp file in the same
// directory, then rename over accounts.json.
// Caller must hold s.mu.
func (s *Store) write(accounts map[string]*Account) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential store: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, accountsFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to restrict credential store permissions: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, accountsFile)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace credential store: %w", err)
	}
	return nil
}
