package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// ProviderConfig identifies the authorization server and the public client.
type ProviderConfig struct {
	ClientID string
	// Tenant selects the Microsoft identity platform endpoints when neither
	// IssuerURL nor explicit URLs are set.
	Tenant string
	Scopes []string
	// IssuerURL enables OpenID Connect discovery of the endpoints.
	IssuerURL string
	AuthURL   string
	TokenURL  string
}

// ResolveEndpoint picks the provider endpoints: explicit URLs first, then
// discovery from IssuerURL, then the Azure AD endpoints for Tenant.
// Credentials are always sent in the form body as this is a public client.
func ResolveEndpoint(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (oauth2.Endpoint, error) {
	var endpoint oauth2.Endpoint

	switch {
	case cfg.AuthURL != "" && cfg.TokenURL != "":
		endpoint = oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	case cfg.IssuerURL != "":
		if httpClient != nil {
			ctx = oidc.ClientContext(ctx, httpClient)
		}
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return oauth2.Endpoint{}, classifyError("discovery", err)
		}
		endpoint = provider.Endpoint()
	default:
		tenant := cfg.Tenant
		if tenant == "" {
			tenant = "common"
		}
		endpoint = microsoft.AzureADEndpoint(tenant)
	}

	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return endpoint, nil
}

// ExchangeClient performs the authorization_code and refresh_token grants.
// It holds no token state.
type ExchangeClient struct {
	config     oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewExchangeClient creates an ExchangeClient for a public client.
func NewExchangeClient(clientID string, scopes []string, endpoint oauth2.Endpoint, httpClient *http.Client) *ExchangeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ExchangeClient{
		config: oauth2.Config{
			ClientID: clientID,
			Scopes:   scopes,
			Endpoint: endpoint,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// AuthCodeURL builds the browser URL for an authorization request.
func (c *ExchangeClient) AuthCodeURL(redirectURI, state string, pkce PKCEPair) string {
	conf := c.config
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems an authorization code.
func (c *ExchangeClient) Exchange(ctx context.Context, code, verifier, redirectURI string) (*StoredToken, error) {
	conf := c.config
	conf.RedirectURL = redirectURI

	tok, err := conf.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyError("authorization_code grant", err)
	}
	return c.toStored(tok)
}

// Refresh redeems a refresh token.
func (c *ExchangeClient) Refresh(ctx context.Context, refreshToken string) (*StoredToken, error) {
	src := c.config.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyError("refresh_token grant", err)
	}
	return c.toStored(tok)
}

func (c *ExchangeClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *ExchangeClient) toStored(tok *oauth2.Token) (*StoredToken, error) {
	received := c.now()

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(received).Round(time.Second) / time.Second)
	}
	if expiresIn <= 0 {
		return nil, fmt.Errorf("%w: token response has no usable expires_in", ErrProvider)
	}

	record := TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    tok.TokenType,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		record.IDToken = idToken
	}

	return &StoredToken{Token: record, IssuedAt: received.Unix()}, nil
}

// classifyError maps transport failures to ErrNetwork and everything the
// provider answered with to ErrProvider.
func classifyError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}
