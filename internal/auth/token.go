package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sitewatch-go/internal/credstore"
)

// TokenRecord is a token response as received from the provider.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token,omitempty"`
}

// StoredToken is the persisted unit: a token and the epoch second it was
// received. IssuedAt is set once on receipt and never recomputed.
type StoredToken struct {
	Token    TokenRecord `json:"token"`
	IssuedAt int64       `json:"issued_at"`
}

// ExpiresAt returns IssuedAt + ExpiresIn in epoch seconds.
func (s StoredToken) ExpiresAt() int64 {
	return s.IssuedAt + s.Token.ExpiresIn
}

// NeedsRefresh reports whether now + margin has reached the expiry.
func (s StoredToken) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return now.Unix()+int64(margin/time.Second) >= s.ExpiresAt()
}

// TokenStore persists tokens and the last-user pointer in a credential
// backend. Writes are serialised so a token and its pointer are never torn
// by a concurrent writer in this process.
type TokenStore struct {
	mu      sync.Mutex
	backend credstore.Backend
	service string
}

// NewTokenStore creates a TokenStore for service.
func NewTokenStore(backend credstore.Backend, service string) *TokenStore {
	return &TokenStore{backend: backend, service: service}
}

// Service returns the service name tokens are stored under.
func (s *TokenStore) Service() string {
	return s.service
}

func (s *TokenStore) lastUserKey() string {
	return s.service + "::last_user"
}

// Load returns the stored token for user.
func (s *TokenStore) Load(ctx context.Context, user string) (*StoredToken, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user cannot be empty", ErrNoStoredToken)
	}

	raw, ok, err := s.backend.Get(ctx, s.service, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoStoredToken, user)
	}

	var stored StoredToken
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("%w: failed to decode stored token: %w", ErrStore, err)
	}
	return &stored, nil
}

// Save replaces the token for user and points the last-user record at them.
func (s *TokenStore) Save(ctx context.Context, user string, token StoredToken) error {
	if user == "" {
		return fmt.Errorf("%w: user cannot be empty", ErrStore)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("%w: failed to encode token: %w", ErrStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if batcher, ok := s.backend.(credstore.BatchSetter); ok {
		err := batcher.SetMany(ctx, s.service, map[string]string{
			user:            string(data),
			s.lastUserKey(): user,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		return nil
	}

	previous, hadPrevious, err := s.backend.Get(ctx, s.service, user)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := s.backend.Set(ctx, s.service, user, string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := s.backend.Set(ctx, s.service, s.lastUserKey(), user); err != nil {
		// put the token back so both records move together
		if hadPrevious {
			_ = s.backend.Set(ctx, s.service, user, previous)
		} else {
			_ = s.backend.Delete(ctx, s.service, user)
		}
		return fmt.Errorf("%w: failed to update last user: %w", ErrStore, err)
	}
	return nil
}

// Delete removes the token for user and clears the last-user pointer when it
// names that user.
func (s *TokenStore) Delete(ctx context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.service, user); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	last, ok, err := s.backend.Get(ctx, s.service, s.lastUserKey())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if ok && last == user {
		if err := s.backend.Delete(ctx, s.service, s.lastUserKey()); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
	}
	return nil
}

// LastUser returns the most recently authenticated user, if any.
func (s *TokenStore) LastUser(ctx context.Context) (string, bool, error) {
	user, ok, err := s.backend.Get(ctx, s.service, s.lastUserKey())
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return user, ok && user != "", nil
}
