package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sitewatch-go/internal/metrics"
	"sitewatch-go/internal/session"
)

// DefaultLoginTimeout bounds the whole wait for the browser redirect.
const DefaultLoginTimeout = 300 * time.Second

// TokenExchanger builds authorization URLs and performs both grants.
type TokenExchanger interface {
	AuthCodeURL(redirectURI, state string, pkce PKCEPair) string
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*StoredToken, error)
	TokenRefresher
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User  string
	Token TokenRecord
}

// Identity answers "who is logged in".
type Identity struct {
	User          string `json:"user"`
	Authenticated bool   `json:"authenticated"`
}

// OAuthManager coordinates interactive login, logout and the background
// refresher of the current session.
type OAuthManager struct {
	exchanger    TokenExchanger
	store        *TokenStore
	cache        *TokenCache
	refresher    *Refresher
	sessions     *session.Manager
	openBrowser  BrowserFunc
	loginTimeout time.Duration
	logger       *zap.Logger
}

// Options configures an OAuthManager.
type Options struct {
	Exchanger    TokenExchanger
	Store        *TokenStore
	Sessions     *session.Manager
	OpenBrowser  BrowserFunc
	LoginTimeout time.Duration
	Logger       *zap.Logger
	Refresher    []RefresherOption
}

// NewOAuthManager creates a new OAuthManager instance
func NewOAuthManager(opts Options) *OAuthManager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = OpenBrowser
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(context.Background(), logger)
	}

	cache := NewTokenCache(opts.Store, opts.Exchanger, logger)
	return &OAuthManager{
		exchanger:    opts.Exchanger,
		store:        opts.Store,
		cache:        cache,
		refresher:    NewRefresher(opts.Store, cache, logger, opts.Refresher...),
		sessions:     opts.Sessions,
		openBrowser:  opts.OpenBrowser,
		loginTimeout: opts.LoginTimeout,
		logger:       logger,
	}
}

// Tokens returns the expiry policy shared by all callers.
func (m *OAuthManager) Tokens() *TokenCache {
	return m.cache
}

// Login runs the interactive authorization code flow. The login timeout is
// the only deadline: it bounds the redirect wait and the listener alike.
func (m *OAuthManager) Login(ctx context.Context) (*LoginResult, error) {
	result, err := m.login(ctx)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.Logins.WithLabelValues("success").Inc()
	return result, nil
}

func (m *OAuthManager) login(ctx context.Context) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	defer cancel()

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE pair: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return nil, err
	}

	loopback, err := StartLoopback(ctx, state)
	if err != nil {
		return nil, err
	}
	defer loopback.Close()

	authURL := m.exchanger.AuthCodeURL(loopback.RedirectURI(), state, pkce)
	if err := m.openBrowser(authURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}
	m.logger.Info("Waiting for browser login", zap.String("redirect_uri", loopback.RedirectURI()))

	code, err := loopback.Wait(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := m.exchanger.Exchange(ctx, code, pkce.Verifier, loopback.RedirectURI())
	if err != nil {
		return nil, err
	}

	user := ExtractUser(stored.Token)
	if err := m.store.Save(ctx, user, *stored); err != nil {
		// the token is still usable for this process
		m.logger.Warn("Failed to persist token", zap.String("user", user), zap.Error(err))
	}

	m.sessions.Start(user, m.refresher.Run)
	m.logger.Info("Login successful", zap.String("user", user))

	return &LoginResult{User: user, Token: stored.Token}, nil
}

// Logout stops user's refresher, then deletes their token and clears the
// last-user pointer if it names them. An empty user means the last user.
func (m *OAuthManager) Logout(ctx context.Context, user string) (string, error) {
	if user == "" {
		last, ok, err := m.store.LastUser(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			m.sessions.Stop("")
			return "", fmt.Errorf("%w: nobody is logged in", ErrNoStoredToken)
		}
		user = last
	}

	// Stop waits for an in-flight refresh, which would otherwise save the
	// token again after the delete.
	m.sessions.Stop(user)
	if err := m.store.Delete(ctx, user); err != nil {
		return "", err
	}
	m.logger.Info("Logged out", zap.String("user", user))
	return user, nil
}

// WhoAmI reports the last user and whether a token is stored for them.
func (m *OAuthManager) WhoAmI(ctx context.Context) (Identity, error) {
	user, ok, err := m.store.LastUser(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, nil
	}

	if _, err := m.store.Load(ctx, user); err != nil {
		if errors.Is(err, ErrNoStoredToken) {
			return Identity{User: user}, nil
		}
		return Identity{}, err
	}
	return Identity{User: user, Authenticated: true}, nil
}

// Resume starts the refresher for the last user when a token is stored for
// them. It returns the resumed user or "".
func (m *OAuthManager) Resume(ctx context.Context) (string, error) {
	identity, err := m.WhoAmI(ctx)
	if err != nil {
		return "", err
	}
	if !identity.Authenticated {
		return "", nil
	}

	m.sessions.Start(identity.User, m.refresher.Run)
	m.logger.Info("Resumed session", zap.String("user", identity.User))
	return identity.User, nil
}

// CurrentUser returns the user of the running session, falling back to the
// last-user pointer.
func (m *OAuthManager) CurrentUser(ctx context.Context) (string, error) {
	if s := m.sessions.Current(); s != nil {
		return s.User, nil
	}
	user, ok, err := m.store.LastUser(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: nobody is logged in", ErrNoStoredToken)
	}
	return user, nil
}

// AccessToken returns a token for user valid for at least the refresh margin.
func (m *OAuthManager) AccessToken(ctx context.Context, user string) (string, error) {
	token, err := m.cache.EnsureValid(ctx, user, m.refresher.margin)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// generateState generates a random state parameter for the OAuth flow
func generateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
