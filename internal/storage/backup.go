package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// backupTables are compared between source and backup after a copy
var backupTables = []string{"secrets", "sites"}

// Backup writes a consistent copy of the database to backupPath. The
// secrets stay sealed, so the copy is only readable with the same key.
func (s *SQLiteStorage) Backup(ctx context.Context, backupPath string) error {
	if backupPath == "" {
		return fmt.Errorf("%w: backup path cannot be empty", ErrInvalidInput)
	}
	if _, err := os.Stat(backupPath); err == nil {
		return fmt.Errorf("%w: backup file %s", ErrDuplicate, backupPath)
	}

	if err := os.MkdirAll(filepath.Dir(backupPath), 0o700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	if err := s.verifyBackup(ctx, backupPath); err != nil {
		os.Remove(backupPath)
		return fmt.Errorf("backup verification failed: %w", err)
	}
	return nil
}

// verifyBackup checks that the backup holds the same row counts as the source
func (s *SQLiteStorage) verifyBackup(ctx context.Context, backupPath string) error {
	backupDB, err := sql.Open("sqlite3", backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup database: %w", err)
	}
	defer backupDB.Close()

	for _, table := range backupTables {
		var sourceCount, backupCount int64

		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&sourceCount)
		if err != nil {
			return fmt.Errorf("failed to get source count for table %s: %w", table, err)
		}

		err = backupDB.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&backupCount)
		if err != nil {
			return fmt.Errorf("failed to get backup count for table %s: %w", table, err)
		}

		if sourceCount != backupCount {
			return fmt.Errorf("row count mismatch for table %s: source=%d, backup=%d",
				table, sourceCount, backupCount)
		}
	}
	return nil
}
