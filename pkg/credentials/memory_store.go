package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials for the lifetime of the process. Intended for tests and
// one-shot commands.
type MemoryStore struct {
	mutex sync.Mutex
	pair  Pair
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AccessToken returns the stored access token.
func (store *MemoryStore) AccessToken(ctx context.Context) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.pair.AccessToken, nil
}

// SetAccessToken replaces the access token.
func (store *MemoryStore) SetAccessToken(ctx context.Context, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair.AccessToken = token
	return nil
}

// RefreshToken returns the stored refresh token.
func (store *MemoryStore) RefreshToken(ctx context.Context) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.pair.RefreshToken, nil
}

// SetRefreshToken replaces the refresh token.
func (store *MemoryStore) SetRefreshToken(ctx context.Context, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair.RefreshToken = token
	return nil
}

// SetPair replaces both tokens.
func (store *MemoryStore) SetPair(ctx context.Context, pair Pair) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair = pair
	return nil
}

// Clear removes both tokens.
func (store *MemoryStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair = Pair{}
	return nil
}
