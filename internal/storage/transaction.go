package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrTransactionClosed = errors.New("transaction is already closed")
)

// Transaction represents a database transaction
type Transaction struct {
	tx     *sql.Tx
	key    []byte
	closed bool
}

// BeginTx starts a new database transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, key: s.key}, nil
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Rollback()
}

// PutSecret stores or replaces a secret within the transaction
func (t *Transaction) PutSecret(ctx context.Context, service, account, value string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateSecretInput(service, account); err != nil {
		return err
	}
	return putSecret(ctx, t.tx, t.key, service, account, value)
}

// DeleteSecret removes a secret within the transaction
func (t *Transaction) DeleteSecret(ctx context.Context, service, account string) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if err := validateSecretInput(service, account); err != nil {
		return err
	}
	return deleteSecret(ctx, t.tx, service, account)
}
