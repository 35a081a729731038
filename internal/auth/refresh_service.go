package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRefreshMargin is how long before expiry the refresher renews.
	DefaultRefreshMargin = 60 * time.Second
	// DefaultRetryDelay is used when the token is already inside the margin.
	DefaultRetryDelay = 300 * time.Second
	// DefaultIdleDelay is used while no token is stored.
	DefaultIdleDelay = 60 * time.Second
	// refreshCallTimeout bounds a single refresh grant.
	refreshCallTimeout = 30 * time.Second
)

// refresherState is the state of the background loop.
type refresherState int

const (
	stateWaiting refresherState = iota
	stateCancelled
)

// Refresher keeps one user's token fresh in the background. Its loop has two
// states: Waiting, which re-enters itself after every timer, and Cancelled,
// which is terminal. Refresh failures are logged and never end the loop.
type Refresher struct {
	store      *TokenStore
	tokens     TokenValidator
	logger     *zap.Logger
	now        func() time.Time
	margin     time.Duration
	retryDelay time.Duration
	idleDelay  time.Duration
}

// RefresherOption customises a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshDelays overrides the margin, retry and idle delays.
func WithRefreshDelays(margin, retry, idle time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.margin = margin
		r.retryDelay = retry
		r.idleDelay = idle
	}
}

// NewRefresher creates a Refresher.
func NewRefresher(store *TokenStore, tokens TokenValidator, logger *zap.Logger, opts ...RefresherOption) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Refresher{
		store:      store,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
		margin:     DefaultRefreshMargin,
		retryDelay: DefaultRetryDelay,
		idleDelay:  DefaultIdleDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loops until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, user string) {
	logger := r.logger.With(zap.String("user", user))
	logger.Debug("Token refresher started")
	defer logger.Debug("Token refresher stopped")

	state := stateWaiting
	for state == stateWaiting {
		delay, hasToken := r.nextDelay(ctx, user)
		logger.Debug("Token refresher sleeping", zap.Duration("sleep", delay))

		state = r.wait(ctx, delay)
		if state == stateCancelled || !hasToken {
			continue
		}
		r.refresh(ctx, logger, user)
	}
}

// nextDelay computes how long to sleep before the next attempt.
func (r *Refresher) nextDelay(ctx context.Context, user string) (time.Duration, bool) {
	stored, err := r.store.Load(ctx, user)
	if err != nil {
		if !errors.Is(err, ErrNoStoredToken) {
			r.logger.Warn("Failed to load token", zap.String("user", user), zap.Error(err))
		}
		return r.idleDelay, false
	}

	until := time.Duration(stored.ExpiresAt()-r.now().Unix())*time.Second - r.margin
	if until > 0 {
		return until, true
	}
	return r.retryDelay, true
}

// wait races the timer against cancellation.
func (r *Refresher) wait(ctx context.Context, delay time.Duration) refresherState {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return stateCancelled
	case <-timer.C:
		if ctx.Err() != nil {
			return stateCancelled
		}
		return stateWaiting
	}
}

// refresh runs one attempt. An attempt that has started finishes even if the
// session is cancelled meanwhile, so a rotated refresh token is not lost.
func (r *Refresher) refresh(ctx context.Context, logger *zap.Logger, user string) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshCallTimeout)
	defer cancel()

	if _, err := r.tokens.EnsureValid(callCtx, user, r.margin); err != nil {
		logger.Warn("Background token refresh failed", zap.Error(err))
	}
}
