package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sitewatch-go/internal/metrics"
)

// TokenRefresher redeems refresh tokens.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*StoredToken, error)
}

// TokenValidator hands out tokens that stay valid for at least margin.
type TokenValidator interface {
	EnsureValid(ctx context.Context, user string, margin time.Duration) (*TokenRecord, error)
}

// TokenCache applies the expiry policy on top of the TokenStore. The store is
// read on every call; nothing is cached between calls.
type TokenCache struct {
	store     *TokenStore
	refresher TokenRefresher
	logger    *zap.Logger
	now       func() time.Time
	group     singleflight.Group
}

// NewTokenCache creates a TokenCache.
func NewTokenCache(store *TokenStore, refresher TokenRefresher, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		store:     store,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureValid returns the stored token for user, refreshing it first when
// now + margin has reached its expiry. Concurrent calls for the same user
// and margin share one refresh. The shared refresh outlives the caller that
// started it, so a refresh token rotated by the provider is always saved.
func (c *TokenCache) EnsureValid(ctx context.Context, user string, margin time.Duration) (*TokenRecord, error) {
	key := fmt.Sprintf("%s|%d", user, margin)
	v, err, _ := c.group.Do(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshCallTimeout)
		defer cancel()
		return c.ensureValid(callCtx, user, margin)
	})
	if err != nil {
		return nil, err
	}
	record := v.(TokenRecord)
	return &record, nil
}

func (c *TokenCache) ensureValid(ctx context.Context, user string, margin time.Duration) (TokenRecord, error) {
	stored, err := c.store.Load(ctx, user)
	if err != nil {
		return TokenRecord{}, err
	}

	if !stored.NeedsRefresh(c.now(), margin) {
		return stored.Token, nil
	}

	if stored.Token.RefreshToken == "" {
		return TokenRecord{}, fmt.Errorf("%w for %s", ErrMissingRefreshToken, user)
	}

	fresh, err := c.refresher.Refresh(ctx, stored.Token.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return TokenRecord{}, err
	}

	// Providers may omit tokens that did not rotate
	if fresh.Token.RefreshToken == "" {
		fresh.Token.RefreshToken = stored.Token.RefreshToken
	}
	if fresh.Token.IDToken == "" {
		fresh.Token.IDToken = stored.Token.IDToken
	}

	if err := c.store.Save(ctx, user, *fresh); err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return TokenRecord{}, err
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.logger.Info("Refreshed access token",
		zap.String("user", user),
		zap.Int64("expires_in", fresh.Token.ExpiresIn))
	return fresh.Token, nil
}
