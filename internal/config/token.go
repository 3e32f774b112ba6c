package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const keychainService = "inkwell"

// Keychain abstracts the platform secret store for testing.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct{}

// NewKeychain returns the platform secret store: macOS Keychain via the
// security CLI, a mode-0600 secrets file elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainStore(service, account, value)
}

// GetAPIToken returns the bearer token that protects the local HTTP API,
// generating and persisting one on first use. Clients and server read the
// same token, so everything on this machine agrees without handshakes.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, "api_token"); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
