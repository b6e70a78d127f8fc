package creds

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeychain is an in-memory Keychain for tests.
type fakeKeychain struct {
	entries map[string]string
	failSet bool
	failGet bool
}

func newFakeKeychain() *fakeKeychain {
	return &fakeKeychain{entries: map[string]string{}}
}

func (f *fakeKeychain) Set(service, user, password string) error {
	if f.failSet {
		return errors.New("no keychain backend")
	}
	f.entries[service+"/"+user] = password
	return nil
}

func (f *fakeKeychain) Get(service, user string) (string, error) {
	if f.failGet {
		return "", errors.New("no keychain backend")
	}
	pw, ok := f.entries[service+"/"+user]
	if !ok {
		return "", errors.New("not found")
	}
	return pw, nil
}

func (f *fakeKeychain) Delete(service, user string) error {
	delete(f.entries, service+"/"+user)
	return nil
}

func TestSaveAndLoad_KeychainScheme(t *testing.T) {
	kc := newFakeKeychain()
	store := NewStoreWithKeychain(t.TempDir(), kc)

	require.NoError(t, store.Save("alice", "tok-1", "pw"))

	token, password, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, "pw", password)

	scheme, err := store.Scheme("alice")
	require.NoError(t, err)
	assert.Equal(t, SchemeKeychain, scheme)
}

func TestSave_FallsBackToB64(t *testing.T) {
	kc := newFakeKeychain()
	kc.failSet = true
	dir := t.TempDir()
	store := NewStoreWithKeychain(dir, kc)

	require.NoError(t, store.Save("alice", "tok-1", "pw"))

	scheme, err := store.Scheme("alice")
	require.NoError(t, err)
	assert.Equal(t, SchemeB64, scheme)

	// The password must not appear in plaintext on disk.
	data, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"pw"`)

	_, password, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "pw", password)
}

func TestLoad_DecryptionFailureDegradesToNoPassword(t *testing.T) {
	kc := newFakeKeychain()
	store := NewStoreWithKeychain(t.TempDir(), kc)

	require.NoError(t, store.Save("alice", "tok-1", "pw"))
	kc.failGet = true

	token, password, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Empty(t, password)
}

func TestLoad_UnknownAccount(t *testing.T) {
	store := NewStoreWithKeychain(t.TempDir(), newFakeKeychain())

	token, password, err := store.Load("nobody")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, password)
}

func TestSave_EmptyPasswordKeepsExisting(t *testing.T) {
	kc := newFakeKeychain()
	store := NewStoreWithKeychain(t.TempDir(), kc)

	require.NoError(t, store.Save("alice", "tok-1", "pw"))
	require.NoError(t, store.Save("alice", "tok-2", ""))

	token, password, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.Equal(t, "pw", password)
}

func TestForget(t *testing.T) {
	kc := newFakeKeychain()
	store := NewStoreWithKeychain(t.TempDir(), kc)

	require.NoError(t, store.Save("alice", "tok-1", "pw"))
	require.NoError(t, store.Forget("alice"))

	token, password, err := store.Load("alice")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, password)
	assert.Empty(t, kc.entries)

	names, err := store.ListKnown()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListKnown_Sorted(t *testing.T) {
	store := NewStoreWithKeychain(t.TempDir(), newFakeKeychain())

	require.NoError(t, store.Save("bob", "t", ""))
	require.NoError(t, store.Save("alice", "t", ""))

	names, err := store.ListKnown()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestStorageURLAndTempURLKey(t *testing.T) {
	store := NewStoreWithKeychain(t.TempDir(), newFakeKeychain())

	require.NoError(t, store.Save("alice", "tok", ""))
	require.NoError(t, store.SetStorageURL("alice", "https://storage.example/v1/AUTH_alice"))
	require.NoError(t, store.SetTempURLKey("alice", "key-123"))

	url, err := store.StorageURL("alice")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.example/v1/AUTH_alice", url)

	key, err := store.TempURLKey("alice")
	require.NoError(t, err)
	assert.Equal(t, "key-123", key)
}

func TestWrite_FileLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewStoreWithKeychain(dir, newFakeKeychain())

	require.NoError(t, store.Save("alice", "tok-1", "pw"))

	data, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "alice")
	assert.Equal(t, "tok-1", decoded["alice"]["token"])
	assert.Equal(t, SchemeKeychain, decoded["alice"]["scheme"])

	info, err := os.Stat(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	if info.Mode().Perm() != 0o600 {
		t.Skipf("filesystem does not preserve permissions: %v", info.Mode())
	}
}
