package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sitewatch-go/internal/auth"
	"sitewatch-go/internal/config"
	"sitewatch-go/internal/credstore"
	"sitewatch-go/internal/graph"
	"sitewatch-go/internal/monitor"
	"sitewatch-go/internal/notify"
	"sitewatch-go/internal/scheduler"
	"sitewatch-go/internal/session"
	"sitewatch-go/internal/storage"
	"sitewatch-go/internal/worker"
)

// checkJobName names the scheduled check round.
const checkJobName = "check-sites"

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *storage.SQLiteStorage
	Backend       credstore.Backend
	Tokens        *auth.TokenStore
	Auth          *auth.OAuthManager
	Sessions      *session.Manager
	Client        *auth.Client
	Graph         *graph.Client
	Monitor       *monitor.Monitor
	Telegram      *notify.TelegramNotifier
	WorkerPool    *worker.WorkerPool
	Scheduler     *scheduler.Scheduler
	HttpServer    *http.Server
	MetricsServer *http.Server
}

type options struct {
	backend credstore.Backend
	browser auth.BrowserFunc
	prompt  io.Writer
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithBackend replaces the configured credential backend.
func WithBackend(b credstore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithBrowser replaces the system browser launcher.
func WithBrowser(fn auth.BrowserFunc) Option {
	return func(o *options) { o.browser = fn }
}

// WithPrompt sets where the login URL is printed when no_browser is set.
func WithPrompt(w io.Writer) Option {
	return func(o *options) { o.prompt = w }
}

// New creates and initializes a new Application instance. Nothing is
// started; sessions, servers and background loops begin in Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{prompt: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{Config: cfg, Logger: logger}

	// Setup: credential backend and site list
	sites, err := a.openStores(ctx, &o)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Auth.HTTPTimeout.Duration}

	// Setup: identity provider
	endpoint, err := auth.ResolveEndpoint(ctx, auth.ProviderConfig{
		ClientID:  cfg.Auth.ClientID,
		Tenant:    cfg.Auth.Tenant,
		Scopes:    cfg.Auth.Scopes,
		IssuerURL: cfg.Auth.IssuerURL,
		AuthURL:   cfg.Auth.AuthURL,
		TokenURL:  cfg.Auth.TokenURL,
	}, httpClient)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to resolve provider endpoints: %w", err)
	}
	exchanger := auth.NewExchangeClient(cfg.Auth.ClientID, cfg.Auth.Scopes, endpoint, httpClient)

	// Setup: Auth Manager
	browser := o.browser
	if cfg.Auth.NoBrowser {
		browser = printURL(o.prompt)
	}
	a.Tokens = auth.NewTokenStore(a.Backend, cfg.Store.ServiceName)
	a.Sessions = session.NewManager(ctx, logger.Named("session"))
	a.Auth = auth.NewOAuthManager(auth.Options{
		Exchanger:    exchanger,
		Store:        a.Tokens,
		Sessions:     a.Sessions,
		OpenBrowser:  browser,
		LoginTimeout: cfg.Auth.LoginTimeout.Duration,
		Logger:       logger.Named("auth"),
		Refresher: []auth.RefresherOption{
			auth.WithRefreshDelays(cfg.Auth.RefreshMargin.Duration, auth.DefaultRetryDelay, auth.DefaultIdleDelay),
		},
	})
	a.Client = auth.NewClient(a.Auth.Tokens(), httpClient)
	a.Graph = graph.NewClient(a.Client, cfg.Auth.GraphURL)

	// Setup: notifications
	notifier, err := a.buildNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	// Setup: Monitor
	a.Monitor = monitor.New(monitor.Options{
		Store:       sites,
		Fetcher:     a.Client,
		CurrentUser: a.Auth.CurrentUser,
		Notifier:    notifier,
		Timeout:     cfg.Monitor.Timeout.Duration,
		Interval:    cfg.Monitor.Interval.Duration,
		Workers:     cfg.Monitor.Workers,
		Logger:      logger.Named("monitor"),
	})
	seed := make([]storage.Site, 0, len(cfg.Monitor.Sites))
	for _, s := range cfg.Monitor.Sites {
		seed = append(seed, storage.Site{URL: s.URL, Authenticated: s.Authenticated})
	}
	if err := a.Monitor.Seed(ctx, seed); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed sites: %w", err)
	}

	// Setup: WorkerPool and Scheduler. A round that is still queued makes
	// the next one skip.
	a.WorkerPool = worker.NewWorkerPool(1,
		worker.WithQueueSize(1),
		worker.WithMaxRetries(cfg.Monitor.Retries),
		worker.WithLogger(logger.Named("worker")))
	a.Scheduler = scheduler.NewScheduler(ctx, a.WorkerPool, logger.Named("scheduler"))
	if cfg.Monitor.Schedule != "" {
		if _, err := a.Scheduler.ScheduleJob(checkJobName, cfg.Monitor.Schedule, a.Monitor.RoundTask()); err != nil {
			a.Close()
			return nil, err
		}
	}

	// Setup: HTTP servers
	if err := requireLoopback(cfg.Server.APIAddr); err != nil {
		a.Close()
		return nil, err
	}
	a.HttpServer = &http.Server{
		Addr:              cfg.Server.APIAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		a.MetricsServer = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

func (a *Application) openStores(ctx context.Context, o *options) (monitor.SiteStore, error) {
	cfg := a.Config.Store

	if cfg.Backend == "sqlite" {
		key, err := storage.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		dbCfg := storage.DefaultConfig()
		dbCfg.Path = cfg.DBPath
		dbCfg.EncryptionKey = key
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := storage.OpenDatabase(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Backend = credstore.NewSQLiteBackend(db)
		if o.backend != nil {
			a.Backend = o.backend
		}
		return db, nil
	}

	switch {
	case o.backend != nil:
		a.Backend = o.backend
	case cfg.Backend == "memory":
		a.Backend = credstore.NewMemoryBackend()
	default:
		a.Backend = credstore.NewKeyringBackend()
	}
	return storage.NewFileSiteStore(cfg.SitesFile), nil
}

func (a *Application) buildNotifier() (notify.Notifier, error) {
	cfg := a.Config.Notify
	notifiers := notify.Multi{notify.NewLogNotifier(a.Logger.Named("notify"))}

	if cfg.Telegram.Token != "" {
		telegram, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, a.Logger.Named("telegram"))
		if err != nil {
			return nil, err
		}
		a.Telegram = telegram
		notifiers = append(notifiers, telegram)
	}

	if cfg.Mail.Host != "" {
		notifiers = append(notifiers, notify.NewMailNotifier(
			cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From, cfg.Mail.To))
	}
	return notifiers, nil
}

// Run starts the application's services and blocks until ctx ends, then
// shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.Logger.Info("Starting application services")

	apiListener, err := net.Listen("tcp", a.HttpServer.Addr)
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.HttpServer.Addr, err)
	}

	if user, err := a.Auth.Resume(ctx); err != nil {
		a.Logger.Warn("Could not resume session", zap.Error(err))
	} else if user != "" {
		a.Logger.Info("Session resumed", zap.String("user", user))
	}

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info("Starting HTTP server", zap.String("addr", apiListener.Addr().String()))
		if err := a.HttpServer.Serve(apiListener); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.MetricsServer != nil {
		go func() {
			a.Logger.Info("Starting metrics server", zap.String("addr", a.MetricsServer.Addr))
			if err := a.MetricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Start the worker pool
	a.WorkerPool.Start()

	monitorDone := make(chan struct{})
	if a.Config.Monitor.Schedule != "" {
		a.Scheduler.Start()
		if err := a.Scheduler.RunNow(checkJobName); err != nil {
			a.Logger.Warn("Initial check round not started", zap.Error(err))
		}
		close(monitorDone)
	} else {
		go func() {
			defer close(monitorDone)
			_ = a.Monitor.Run(ctx)
		}()
	}

	if a.Telegram != nil {
		go a.Telegram.Listen(ctx, func(context.Context) string {
			return monitor.Summary(a.Monitor.Statuses())
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.Logger.Error("Server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)
	<-monitorDone
	return runErr
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) {
	a.Logger.Info("Stopping application services")

	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Warn("Metrics server shutdown error", zap.Error(err))
		}
	}

	a.Scheduler.Stop()
	a.WorkerPool.Stop()
	a.Close()

	a.Logger.Info("Application stopped gracefully")
}

// Close ends the current session and releases the database.
func (a *Application) Close() {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("Error closing database", zap.Error(err))
		}
		a.DB = nil
	}
}

// requireLoopback refuses API addresses reachable from other machines.
func requireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid api address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("api address %q must be a loopback address", addr)
}

func printURL(w io.Writer) auth.BrowserFunc {
	return func(url string) error {
		_, err := fmt.Fprintf(w, "Open this URL in your browser to sign in:\n\n  %s\n\n", url)
		return err
	}
}
