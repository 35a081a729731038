// Package monitor checks a list of websites and reports when they go down
// or come back.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sitewatch-go/internal/metrics"
	"sitewatch-go/internal/notify"
	"sitewatch-go/internal/storage"
	"sitewatch-go/internal/worker"
)

var (
	ErrInvalidURL    = errors.New("invalid site url")
	ErrDuplicateSite = errors.New("site already monitored")
	ErrSiteNotFound  = errors.New("site not monitored")
)

const (
	// DefaultTimeout bounds a single site check.
	DefaultTimeout = 10 * time.Second
	// DefaultInterval is the pause between check rounds.
	DefaultInterval = 60 * time.Second
	// DefaultWorkers is how many sites are checked at once.
	DefaultWorkers = 4
)

// SiteStore persists the site list.
type SiteStore interface {
	AddSite(ctx context.Context, site storage.Site) error
	RemoveSite(ctx context.Context, url string) error
	ListSites(ctx context.Context) ([]storage.Site, error)
}

// Fetcher sends authenticated requests. *auth.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url, user string) (*http.Response, error)
}

// UserFunc names the account authenticated sites are fetched as.
type UserFunc func(ctx context.Context) (string, error)

// Status is the outcome of the latest check of one site.
type Status struct {
	URL         string    `json:"url"`
	Online      bool      `json:"online"`
	StatusCode  int       `json:"status_code,omitempty"`
	Message     string    `json:"message"`
	LastChecked time.Time `json:"last_checked"`
}

// Options configures a Monitor.
type Options struct {
	Store       SiteStore
	HTTPClient  *http.Client
	Fetcher     Fetcher
	CurrentUser UserFunc
	Notifier    notify.Notifier
	Timeout     time.Duration
	Interval    time.Duration
	Workers     int
	Logger      *zap.Logger
}

// Monitor owns the site list and the last known status of every site.
type Monitor struct {
	store       SiteStore
	httpClient  *http.Client
	fetcher     Fetcher
	currentUser UserFunc
	notifier    notify.Notifier
	timeout     time.Duration
	interval    time.Duration
	workers     int
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	statuses map[string]Status
	failures map[string]int
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Monitor{
		store:       opts.Store,
		httpClient:  opts.HTTPClient,
		fetcher:     opts.Fetcher,
		currentUser: opts.CurrentUser,
		notifier:    opts.Notifier,
		timeout:     opts.Timeout,
		interval:    opts.Interval,
		workers:     opts.Workers,
		logger:      opts.Logger,
		now:         time.Now,
		statuses:    make(map[string]Status),
		failures:    make(map[string]int),
	}
}

func siteKey(rawURL string) string {
	return strings.ToLower(rawURL)
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q must use http or https", ErrInvalidURL, rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}
	return rawURL, nil
}

// Add starts monitoring rawURL. URLs are unique regardless of case.
func (m *Monitor) Add(ctx context.Context, rawURL string, authenticated bool) (storage.Site, error) {
	clean, err := ValidateURL(rawURL)
	if err != nil {
		return storage.Site{}, err
	}

	site := storage.Site{URL: clean, Authenticated: authenticated, CreatedAt: m.now().UTC()}
	if err := m.store.AddSite(ctx, site); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Site{}, fmt.Errorf("%w: %s", ErrDuplicateSite, clean)
		}
		return storage.Site{}, err
	}
	m.logger.Info("Site added", zap.String("url", clean), zap.Bool("authenticated", authenticated))
	return site, nil
}

// Seed adds sites that are not monitored yet.
func (m *Monitor) Seed(ctx context.Context, sites []storage.Site) error {
	for _, site := range sites {
		if _, err := m.Add(ctx, site.URL, site.Authenticated); err != nil && !errors.Is(err, ErrDuplicateSite) {
			return err
		}
	}
	return nil
}

// Remove stops monitoring rawURL and forgets its status.
func (m *Monitor) Remove(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if err := m.store.RemoveSite(ctx, rawURL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSiteNotFound, rawURL)
		}
		return err
	}

	m.mu.Lock()
	delete(m.statuses, siteKey(rawURL))
	delete(m.failures, siteKey(rawURL))
	m.mu.Unlock()

	metrics.SiteUp.DeleteLabelValues(rawURL)
	m.logger.Info("Site removed", zap.String("url", rawURL))
	return nil
}

// List returns the monitored sites.
func (m *Monitor) List(ctx context.Context) ([]storage.Site, error) {
	return m.store.ListSites(ctx)
}

// Statuses returns the last known status of every checked site, by URL.
func (m *Monitor) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// CheckAll checks every site in parallel, records the results and sends a
// notification for each site whose state changed. Only a failure to read
// the site list is returned; notification failures are logged.
func (m *Monitor) CheckAll(ctx context.Context) ([]Status, error) {
	sites, err := m.store.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}

	results := make([]Status, len(sites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, site := range sites {
		g.Go(func() error {
			results[i] = m.check(gctx, site)
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range results {
		title, changed := m.record(status)
		if !changed {
			continue
		}
		if err := m.notifier.Notify(ctx, title, status.Message); err != nil {
			m.logger.Warn("Failed to send notification", zap.String("url", status.URL), zap.Error(err))
		}
	}
	return results, nil
}

// record stores status and returns the notification title for a change.
func (m *Monitor) record(status Status) (string, bool) {
	key := siteKey(status.URL)

	m.mu.Lock()
	defer m.mu.Unlock()

	previous, seen := m.statuses[key]
	m.statuses[key] = status

	if status.Online {
		m.failures[key] = 0
		if seen && !previous.Online {
			return status.URL + " is back UP", true
		}
		return "", false
	}

	m.failures[key]++
	if m.failures[key] == 1 {
		return status.URL + " is DOWN", true
	}
	return "", false
}

func (m *Monitor) check(ctx context.Context, site storage.Site) (status Status) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	status = Status{URL: site.URL}
	defer func() {
		status.LastChecked = m.now()
		metrics.SiteCheckDuration.WithLabelValues(site.URL).Observe(time.Since(start).Seconds())
		up := 0.0
		if status.Online {
			up = 1
		}
		metrics.SiteUp.WithLabelValues(site.URL).Set(up)
	}()

	resp, err := m.get(ctx, site)
	if err != nil {
		status.Message = err.Error()
		return status
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	status.StatusCode = resp.StatusCode
	status.Online = resp.StatusCode >= 200 && resp.StatusCode < 400
	status.Message = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return status
}

func (m *Monitor) get(ctx context.Context, site storage.Site) (*http.Response, error) {
	if !site.Authenticated {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.URL, nil)
		if err != nil {
			return nil, err
		}
		return m.httpClient.Do(req)
	}

	if m.fetcher == nil || m.currentUser == nil {
		return nil, errors.New("authenticated checks are not configured")
	}
	user, err := m.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("not logged in: %w", err)
	}
	return m.fetcher.Get(ctx, site.URL, user)
}

// Run checks immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Monitor started", zap.Duration("interval", m.interval))
	for {
		if _, err := m.CheckAll(ctx); err != nil {
			m.logger.Error("Check round failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RoundTask wraps one CheckAll as a worker task.
func (m *Monitor) RoundTask() worker.Task {
	return worker.NewTask("check-sites", func(ctx context.Context) error {
		_, err := m.CheckAll(ctx)
		return err
	})
}

// Summary renders statuses one line per site.
func Summary(statuses []Status) string {
	if len(statuses) == 0 {
		return "No sites checked yet."
	}
	var b strings.Builder
	for _, s := range statuses {
		state := "UP"
		if !s.Online {
			state = "DOWN"
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", state, s.URL, s.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}
