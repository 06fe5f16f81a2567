package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keychain service the Hetzner token is stored under.
const KeyringService = "hubspoke"

const keyringUser = "hcloud"

// ErrTokenNotFound is returned when no token is stored in the keychain.
var ErrTokenNotFound = errors.New("hcloud token not found in keyring")

// LookupToken returns the token stored in the OS keychain, or an empty string.
func LookupToken() string {
	token, err := keyring.Get(KeyringService, keyringUser)
	if err != nil {
		return ""
	}
	return token
}

// StoreToken saves the token in the OS keychain.
func StoreToken(token string) error {
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if err := keyring.Set(KeyringService, keyringUser, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// DeleteToken removes the token from the OS keychain.
func DeleteToken() error {
	err := keyring.Delete(KeyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}
