package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores values in the OS secret service (Keychain,
// Credential Manager or the freedesktop Secret Service).
type KeyringBackend struct{}

// NewKeyringBackend creates a KeyringBackend.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{}
}

// Set implements Backend.
func (b *KeyringBackend) Set(_ context.Context, service, key, value string) error {
	if err := keyring.Set(service, key, value); err != nil {
		return fmt.Errorf("failed to write keyring entry %s/%s: %w", service, key, err)
	}
	return nil
}

// Get implements Backend.
func (b *KeyringBackend) Get(_ context.Context, service, key string) (string, bool, error) {
	value, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read keyring entry %s/%s: %w", service, key, err)
	}
	return value, true, nil
}

// Delete implements Backend.
func (b *KeyringBackend) Delete(_ context.Context, service, key string) error {
	if err := keyring.Delete(service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry %s/%s: %w", service, key, err)
	}
	return nil
}
