package credstore

import (
	"context"
	"errors"

	"sitewatch-go/internal/storage"
)

// SQLiteBackend stores values in the encrypted secrets table.
type SQLiteBackend struct {
	db *storage.SQLiteStorage
}

// NewSQLiteBackend wraps an open database.
func NewSQLiteBackend(db *storage.SQLiteStorage) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Set implements Backend.
func (b *SQLiteBackend) Set(ctx context.Context, service, key, value string) error {
	return b.db.PutSecret(ctx, service, key, value)
}

// SetMany implements BatchSetter with a single transaction.
func (b *SQLiteBackend) SetMany(ctx context.Context, service string, values map[string]string) error {
	return b.db.PutSecrets(ctx, service, values)
}

// Get implements Backend.
func (b *SQLiteBackend) Get(ctx context.Context, service, key string) (string, bool, error) {
	value, err := b.db.GetSecret(ctx, service, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, service, key string) error {
	return b.db.DeleteSecret(ctx, service, key)
}
