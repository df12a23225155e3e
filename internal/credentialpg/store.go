package credentialpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/clinicgate/pkg/credentials"
)

// Querier is the subset of pgxpool.Pool used by the backend.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Backend persists credential pairs in PostgreSQL through pgx.
type Backend struct {
	database Querier
	profile  string
	now      func() time.Time
}

// NewBackend constructs a Postgres credential backend for one profile.
func NewBackend(database Querier, profile string) (*Backend, error) {
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("credentials.pgx.open: %w", credentials.ErrEmptyProfile)
	}
	return &Backend{
		database: database,
		profile:  profile,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Load returns the pair stored for the profile, or an empty pair when absent.
func (backend *Backend) Load(ctx context.Context) (credentials.Pair, error) {
	var pair credentials.Pair
	row := backend.database.QueryRow(ctx, `
SELECT access_token, refresh_token
FROM client_credentials
WHERE profile = $1
`, backend.profile)
	if scanErr := row.Scan(&pair.AccessToken, &pair.RefreshToken); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return credentials.Pair{}, nil
		}
		return credentials.Pair{}, fmt.Errorf("credentials.pgx.load: %w", scanErr)
	}
	return pair, nil
}

// Save upserts the pair for the profile.
func (backend *Backend) Save(ctx context.Context, pair credentials.Pair) error {
	_, err := backend.database.Exec(ctx, `
INSERT INTO client_credentials (profile, access_token, refresh_token, updated_at_unix)
VALUES ($1, $2, $3, $4)
ON CONFLICT (profile) DO UPDATE
SET access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token, updated_at_unix = EXCLUDED.updated_at_unix
`, backend.profile, pair.AccessToken, pair.RefreshToken, backend.now().Unix())
	if err != nil {
		return fmt.Errorf("credentials.pgx.save: %w", err)
	}
	return nil
}

// Delete removes the profile row.
func (backend *Backend) Delete(ctx context.Context) error {
	_, err := backend.database.Exec(ctx, `
DELETE FROM client_credentials
WHERE profile = $1
`, backend.profile)
	if err != nil {
		return fmt.Errorf("credentials.pgx.delete: %w", err)
	}
	return nil
}

type pooledBackend struct {
	*Backend
	pool *pgxpool.Pool
}

func (backend pooledBackend) Close() error {
	backend.pool.Close()
	return nil
}

// OpenStore connects to databaseURL, ensures the schema, and returns a Store owning the pool.
func OpenStore(ctx context.Context, databaseURL string, profile string) (*credentials.BackendStore, error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("credentials.pgx.pool: %w", err)
	}
	if schemaErr := EnsureSchema(ctx, pool); schemaErr != nil {
		pool.Close()
		return nil, fmt.Errorf("credentials.pgx.schema: %w", schemaErr)
	}
	backend, err := NewBackend(pool, profile)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return credentials.FromBackend(pooledBackend{Backend: backend, pool: pool})
}
