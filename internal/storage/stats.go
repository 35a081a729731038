package storage

import (
	"context"
	"fmt"
	"time"
)

// Stats summarises what the database currently holds.
type Stats struct {
	Secrets     int64     `json:"secrets"`
	Sites       int64     `json:"sites"`
	CollectedAt time.Time `json:"collected_at"`
}

// GetStats counts stored secrets and sites.
func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CollectedAt: time.Now()}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM secrets),
			(SELECT COUNT(*) FROM sites)
	`).Scan(&stats.Secrets, &stats.Sites)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return stats, nil
}
