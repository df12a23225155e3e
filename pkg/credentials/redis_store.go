package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix         = "clinicgate:credentials:"
	redisFieldAccessToken  = "access_token"
	redisFieldRefreshToken = "refresh_token"
)

var errNilRedisClient = errors.New("credentials.redis.nil_client")

// RedisBackend keeps each profile's pair in a Redis hash.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of the client.
func NewRedisBackend(client redis.UniversalClient, profile string) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("credentials.redis.open: %w", errNilRedisClient)
	}
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("credentials.redis.open: %w", ErrEmptyProfile)
	}
	return &RedisBackend{client: client, key: redisKeyPrefix + profile}, nil
}

// NewRedisStore parses a redis:// URL, verifies connectivity, and returns a Store that owns
// the connection.
func NewRedisStore(ctx context.Context, redisURL string, profile string) (*BackendStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("credentials.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("credentials.redis.ping: %w", pingErr)
	}
	backend, err := NewRedisBackend(client, profile)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	backend.owned = true
	return FromBackend(backend)
}

// Load returns the pair stored for the profile, or an empty pair when absent.
func (backend *RedisBackend) Load(ctx context.Context) (Pair, error) {
	values, err := backend.client.HGetAll(ctx, backend.key).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("credentials.redis.load: %w", err)
	}
	return Pair{
		AccessToken:  values[redisFieldAccessToken],
		RefreshToken: values[redisFieldRefreshToken],
	}, nil
}

// Save writes both fields in one round trip.
func (backend *RedisBackend) Save(ctx context.Context, pair Pair) error {
	err := backend.client.HSet(ctx, backend.key,
		redisFieldAccessToken, pair.AccessToken,
		redisFieldRefreshToken, pair.RefreshToken,
	).Err()
	if err != nil {
		return fmt.Errorf("credentials.redis.save: %w", err)
	}
	return nil
}

// Delete removes the profile hash.
func (backend *RedisBackend) Delete(ctx context.Context) error {
	if err := backend.client.Del(ctx, backend.key).Err(); err != nil {
		return fmt.Errorf("credentials.redis.delete: %w", err)
	}
	return nil
}

// Close closes the client when the backend created it.
func (backend *RedisBackend) Close() error {
	if !backend.owned {
		return nil
	}
	return backend.client.Close()
}
