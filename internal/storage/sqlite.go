package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
)

// Site is a monitored website as persisted in the sites table.
type Site struct {
	URL           string    `json:"url"`
	Authenticated bool      `json:"authenticated"`
	CreatedAt     time.Time `json:"created_at"`
}

// SQLiteStorage handles all database operations. Secret values are sealed
// with AES-256-GCM before they reach the database.
type SQLiteStorage struct {
	db  *sql.DB
	key []byte
}

// NewSQLiteStorage creates a new SQLiteStorage instance around an open database.
func NewSQLiteStorage(db *sql.DB, key []byte) *SQLiteStorage {
	return &SQLiteStorage{db: db, key: key}
}

// validateSecretInput checks if the secret key parameters are valid
func validateSecretInput(service, account string) error {
	if service == "" {
		return fmt.Errorf("%w: service cannot be empty", ErrInvalidInput)
	}
	if account == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}
	return nil
}

// PutSecret stores or replaces the value for (service, account)
func (s *SQLiteStorage) PutSecret(ctx context.Context, service, account, value string) error {
	if err := validateSecretInput(service, account); err != nil {
		return err
	}
	return putSecret(ctx, s.db, s.key, service, account, value)
}

// GetSecret returns the decrypted value for (service, account)
func (s *SQLiteStorage) GetSecret(ctx context.Context, service, account string) (string, error) {
	if err := validateSecretInput(service, account); err != nil {
		return "", err
	}

	var ciphertext, nonce []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT ciphertext, nonce FROM secrets WHERE service = ? AND account = ?",
		service, account).Scan(&ciphertext, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: no secret for %s/%s", ErrNotFound, service, account)
		}
		return "", fmt.Errorf("failed to get secret: %w", err)
	}

	plaintext, err := DecryptSecret(s.key, ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeleteSecret removes the value for (service, account). Deleting a missing
// secret is not an error.
func (s *SQLiteStorage) DeleteSecret(ctx context.Context, service, account string) error {
	if err := validateSecretInput(service, account); err != nil {
		return err
	}
	return deleteSecret(ctx, s.db, service, account)
}

// PutSecrets writes every account/value pair for a service in one transaction.
func (s *SQLiteStorage) PutSecrets(ctx context.Context, service string, values map[string]string) error {
	for account := range values {
		if err := validateSecretInput(service, account); err != nil {
			return err
		}
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	for account, value := range values {
		if err := tx.PutSecret(ctx, service, account, value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit secrets: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSecret(ctx context.Context, db execer, key []byte, service, account, value string) error {
	ciphertext, nonce, err := EncryptSecret(key, []byte(value))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO secrets (service, account, ciphertext, nonce)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service, account) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce
	`
	if _, err := db.ExecContext(ctx, query, service, account, ciphertext, nonce); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

func deleteSecret(ctx context.Context, db execer, service, account string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM secrets WHERE service = ? AND account = ?", service, account)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// AddSite inserts a site. URLs are unique regardless of case.
func (s *SQLiteStorage) AddSite(ctx context.Context, site Site) error {
	if strings.TrimSpace(site.URL) == "" {
		return fmt.Errorf("%w: site URL cannot be empty", ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sites (url, authenticated) VALUES (?, ?)",
		site.URL, site.Authenticated)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: site %s", ErrDuplicate, site.URL)
		}
		return fmt.Errorf("failed to add site: %w", err)
	}
	return nil
}

// RemoveSite deletes a site by URL, ignoring case.
func (s *SQLiteStorage) RemoveSite(ctx context.Context, url string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sites WHERE url = ? COLLATE NOCASE", url)
	if err != nil {
		return fmt.Errorf("failed to remove site: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: site %s", ErrNotFound, url)
	}
	return nil
}

// ListSites returns all sites in insertion order.
func (s *SQLiteStorage) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url, authenticated, created_at FROM sites ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.URL, &site.Authenticated, &site.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sites: %w", err)
	}
	return sites, nil
}
