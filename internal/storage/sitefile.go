package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileSiteStore keeps the site list in a JSON file. It backs the monitor
// when secrets live in the OS keyring and no database is configured.
type FileSiteStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSiteStore creates a FileSiteStore at path. The file is created on
// first write.
func NewFileSiteStore(path string) *FileSiteStore {
	return &FileSiteStore{path: path}
}

func (s *FileSiteStore) load() ([]Site, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	var sites []Site
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, fmt.Errorf("failed to parse sites file: %w", err)
	}
	return sites, nil
}

func (s *FileSiteStore) save(sites []Site) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create sites directory: %w", err)
	}

	data, err := json.MarshalIndent(sites, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sites: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sites file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace sites file: %w", err)
	}
	return nil
}

// AddSite appends a site. URLs are unique regardless of case.
func (s *FileSiteStore) AddSite(_ context.Context, site Site) error {
	if strings.TrimSpace(site.URL) == "" {
		return fmt.Errorf("%w: site URL cannot be empty", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sites, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range sites {
		if strings.EqualFold(existing.URL, site.URL) {
			return fmt.Errorf("%w: site %s", ErrDuplicate, site.URL)
		}
	}

	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	return s.save(append(sites, site))
}

// RemoveSite deletes a site by URL, ignoring case.
func (s *FileSiteStore) RemoveSite(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sites, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range sites {
		if strings.EqualFold(existing.URL, url) {
			return s.save(append(sites[:i], sites[i+1:]...))
		}
	}
	return fmt.Errorf("%w: site %s", ErrNotFound, url)
}

// ListSites returns all sites in insertion order.
func (s *FileSiteStore) ListSites(_ context.Context) ([]Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
