package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SyncValue returns the stored value for (account, key), or "" when unset.
func (s *Store) SyncValue(ctx context.Context, account, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_state WHERE account = ? AND key = ?", account, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load sync %s: %w", key, err)
	}
	return value, nil
}

// SetSyncValue upserts the value for (account, key).
func (s *Store) SetSyncValue(ctx context.Context, account, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (account, key, value) VALUES (?, ?, ?)
		ON CONFLICT(account, key) DO UPDATE SET value = excluded.value
	`, account, key, value)
	if err != nil {
		return fmt.Errorf("store: save sync %s: %w", key, err)
	}
	return nil
}
