package store

import (
	"context"
	"database/sql"
	"errors"
)

const (
	metaSchemaVersion = "schema_version"
	schemaVersion     = "1"
)

// SetMetadata upserts a key-value pair in the store_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := sqlBuilder.Insert("store_metadata").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		RunWith(s.db).ExecContext(ctx)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := sqlBuilder.Select("value").From("store_metadata").Where("key = ?", key).
		RunWith(s.db).QueryRowContext(ctx).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
