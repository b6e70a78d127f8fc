package creds

import "github.com/zalando/go-keyring"

// keychainService is the service identifier under which passwords are filed
// in the OS keychain.
const keychainService = "haio-client"

// Keychain abstracts the OS keychain so tests can substitute a fake.
//
// Platform backends (via zalando/go-keyring):
//   - macOS: Keychain via the Security framework
//   - Linux: Secret Service (libsecret / kwallet)
//   - Windows: Credential Manager (the DPAPI-backed store)
type Keychain interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// systemKeychain is the real OS keychain.
type systemKeychain struct{}

func (systemKeychain) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

func (systemKeychain) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (systemKeychain) Delete(service, user string) error {
	return keyring.Delete(service, user)
}
