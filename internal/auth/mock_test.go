package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sitewatch-go/internal/credstore"
)

const testService = "sitewatch-test"

// fakeProvider is a token endpoint that records every form it receives.
type fakeProvider struct {
	server *httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	status   int
	response map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		status: http.StatusOK,
		response: map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.forms = append(p.forms, r.PostForm)
		status, response := p.status, p.response
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 p.server.URL,
			"authorization_endpoint": p.server.URL + "/authorize",
			"token_endpoint":         p.server.URL + "/token",
		})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   p.server.URL + "/authorize",
		TokenURL:  p.server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (p *fakeProvider) respond(status int, response map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.response = response
}

func (p *fakeProvider) requests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.forms...)
}

func (p *fakeProvider) client() *ExchangeClient {
	return NewExchangeClient("client-123", []string{"openid", "offline_access"}, p.endpoint(), p.server.Client())
}

// fakeRefresher counts refresh grants and returns a fixed token.
type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	tokens []string
	result *StoredToken
	err    error
	delay  time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*StoredToken, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, refreshToken)
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.result
	return &copied, nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gatedRefresher blocks every refresh until release is closed and fails
// when its context was cancelled meanwhile.
type gatedRefresher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	result  StoredToken
}

func newGatedRefresher(result StoredToken) *gatedRefresher {
	return &gatedRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
	}
}

func (g *gatedRefresher) Refresh(ctx context.Context, refreshToken string) (*StoredToken, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	copied := g.result
	return &copied, nil
}

// gatedExchanger is an ExchangeClient whose refresh grant is gated.
type gatedExchanger struct {
	*ExchangeClient
	gate *gatedRefresher
}

func (e *gatedExchanger) Refresh(ctx context.Context, refreshToken string) (*StoredToken, error) {
	return e.gate.Refresh(ctx, refreshToken)
}

// fakeValidator records the margins it was asked for.
type fakeValidator struct {
	mu      sync.Mutex
	margins []time.Duration
	tokens  []string
	err     error
}

func (f *fakeValidator) EnsureValid(ctx context.Context, user string, margin time.Duration) (*TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.margins = append(f.margins, margin)
	token := f.tokens[0]
	if len(f.tokens) > 1 {
		f.tokens = f.tokens[1:]
	}
	return &TokenRecord{AccessToken: token, TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (f *fakeValidator) calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.margins...)
}

// plainBackend hides the BatchSetter of the memory backend and can fail
// writes to one key.
type plainBackend struct {
	inner   *credstore.MemoryBackend
	failKey string
}

func (b *plainBackend) Set(ctx context.Context, service, key, value string) error {
	if key == b.failKey {
		return errBackend
	}
	return b.inner.Set(ctx, service, key, value)
}

func (b *plainBackend) Get(ctx context.Context, service, key string) (string, bool, error) {
	return b.inner.Get(ctx, service, key)
}

func (b *plainBackend) Delete(ctx context.Context, service, key string) error {
	return b.inner.Delete(ctx, service, key)
}

var errBackend = errors.New("backend unavailable")

func newTestStore() *TokenStore {
	return NewTokenStore(credstore.NewMemoryBackend(), testService)
}

func signedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return token
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}
