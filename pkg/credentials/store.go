package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultProfile names the credential slot used when none is configured.
const DefaultProfile = "default"

var (
	// ErrEmptyProfile indicates a persistent store was constructed without a profile name.
	ErrEmptyProfile = errors.New("credentials.empty_profile")
	// ErrNilBackend indicates FromBackend received no backend.
	ErrNilBackend = errors.New("credentials.nil_backend")
)

// Pair is the access/refresh token pair issued by the practice API.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Store keeps the current credential pair. Tokens are opaque strings; a missing
// token is reported as an empty string with a nil error.
type Store interface {
	AccessToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
	RefreshToken(ctx context.Context) (string, error)
	SetRefreshToken(ctx context.Context, token string) error
	SetPair(ctx context.Context, pair Pair) error
	Clear(ctx context.Context) error
}

// IsAuthenticated reports whether the store holds an access token.
func IsAuthenticated(ctx context.Context, store Store) bool {
	if store == nil {
		return false
	}
	accessToken, err := store.AccessToken(ctx)
	return err == nil && strings.TrimSpace(accessToken) != ""
}

// Backend persists a whole credential pair for one profile.
type Backend interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	Delete(ctx context.Context) error
}

// BackendStore adapts a Backend into a Store. Single-token updates are
// read-modify-write cycles serialized by the store mutex.
type BackendStore struct {
	mutex   sync.Mutex
	backend Backend
}

// FromBackend wraps a Backend.
func FromBackend(backend Backend) (*BackendStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("credentials.from_backend: %w", ErrNilBackend)
	}
	return &BackendStore{backend: backend}, nil
}

// AccessToken returns the stored access token.
func (store *BackendStore) AccessToken(ctx context.Context) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	pair, err := store.backend.Load(ctx)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// RefreshToken returns the stored refresh token.
func (store *BackendStore) RefreshToken(ctx context.Context) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	pair, err := store.backend.Load(ctx)
	if err != nil {
		return "", err
	}
	return pair.RefreshToken, nil
}

// SetAccessToken replaces the access token and keeps the refresh token.
func (store *BackendStore) SetAccessToken(ctx context.Context, token string) error {
	return store.update(ctx, func(pair *Pair) { pair.AccessToken = token })
}

// SetRefreshToken replaces the refresh token and keeps the access token.
func (store *BackendStore) SetRefreshToken(ctx context.Context, token string) error {
	return store.update(ctx, func(pair *Pair) { pair.RefreshToken = token })
}

// SetPair replaces both tokens.
func (store *BackendStore) SetPair(ctx context.Context, pair Pair) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.backend.Save(ctx, pair)
}

// Clear removes both tokens.
func (store *BackendStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.backend.Delete(ctx)
}

// Close releases the backend when it holds resources.
func (store *BackendStore) Close() error {
	if closer, ok := store.backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (store *BackendStore) update(ctx context.Context, mutate func(pair *Pair)) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	pair, err := store.backend.Load(ctx)
	if err != nil {
		return err
	}
	mutate(&pair)
	if pair.AccessToken == "" && pair.RefreshToken == "" {
		return store.backend.Delete(ctx)
	}
	return store.backend.Save(ctx, pair)
}
