package credentialpg

import "context"

const schemaStatement = `
CREATE TABLE IF NOT EXISTS client_credentials (
    profile TEXT PRIMARY KEY,
    access_token TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    updated_at_unix BIGINT NOT NULL
);
`

// EnsureSchema creates the credential table if it does not exist.
func EnsureSchema(ctx context.Context, database Querier) error {
	_, err := database.Exec(ctx, schemaStatement)
	return err
}
