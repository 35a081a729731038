package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresher_NextDelay(t *testing.T) {
	tests := []struct {
		name      string
		stored    *StoredToken
		now       int64
		wantDelay time.Duration
		wantToken bool
	}{
		{
			name:      "no token idles",
			now:       1700000000,
			wantDelay: DefaultIdleDelay,
		},
		{
			name:      "sleeps until the margin",
			stored:    &StoredToken{Token: TokenRecord{AccessToken: "AT1", ExpiresIn: 3600}, IssuedAt: 1700000000},
			now:       1700000000,
			wantDelay: 3540 * time.Second,
			wantToken: true,
		},
		{
			name:      "inside the margin retries later",
			stored:    &StoredToken{Token: TokenRecord{AccessToken: "AT1", ExpiresIn: 3600}, IssuedAt: 1700000000},
			now:       1700003550,
			wantDelay: DefaultRetryDelay,
			wantToken: true,
		},
		{
			name:      "exactly at the margin retries later",
			stored:    &StoredToken{Token: TokenRecord{AccessToken: "AT1", ExpiresIn: 3600}, IssuedAt: 1700000000},
			now:       1700003540,
			wantDelay: DefaultRetryDelay,
			wantToken: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore()
			if tt.stored != nil {
				seedToken(t, store, "alice", *tt.stored)
			}

			r := NewRefresher(store, &fakeValidator{tokens: []string{"AT"}}, nil)
			r.now = fixedClock(tt.now)

			delay, hasToken := r.nextDelay(context.Background(), "alice")
			assert.Equal(t, tt.wantDelay, delay)
			assert.Equal(t, tt.wantToken, hasToken)
		})
	}
}

func TestRefresher_RunRefreshesWhenDue(t *testing.T) {
	store := newTestStore()
	seedToken(t, store, "alice", StoredToken{
		Token:    TokenRecord{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600},
		IssuedAt: time.Now().Add(-time.Hour).Unix(),
	})

	validator := &fakeValidator{tokens: []string{"AT2"}}
	r := NewRefresher(store, validator, nil, WithRefreshDelays(time.Minute, 10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, "alice")
	}()

	require.Eventually(t, func() bool {
		return len(validator.calls()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}

	for _, margin := range validator.calls() {
		assert.Equal(t, time.Minute, margin)
	}

	// No refresh after cancellation
	stopped := len(validator.calls())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, len(validator.calls()))
}

func TestRefresher_RunSurvivesFailures(t *testing.T) {
	store := newTestStore()
	seedToken(t, store, "alice", StoredToken{
		Token:    TokenRecord{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600},
		IssuedAt: time.Now().Add(-time.Hour).Unix(),
	})

	validator := &fakeValidator{err: ErrProvider}
	r := NewRefresher(store, validator, nil, WithRefreshDelays(time.Minute, 5*time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, "alice")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop after the context ended")
	}
}

func TestRefresher_CancelWhileWaiting(t *testing.T) {
	store := newTestStore()
	seedToken(t, store, "alice", StoredToken{
		Token:    TokenRecord{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600},
		IssuedAt: time.Now().Unix(),
	})

	validator := &fakeValidator{tokens: []string{"AT2"}}
	r := NewRefresher(store, validator, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, "alice")
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
	assert.Empty(t, validator.calls())
}

func TestRefresher_Wait(t *testing.T) {
	r := NewRefresher(newTestStore(), &fakeValidator{}, nil)

	assert.Equal(t, stateWaiting, r.wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, stateCancelled, r.wait(ctx, 0))
	assert.Equal(t, stateCancelled, r.wait(ctx, time.Hour))
}
