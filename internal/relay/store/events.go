package store

import (
	"context"
	"fmt"
	"time"
)

// MarkProcessed records eventID as handled. It returns true the first time an
// event is seen and false on every later call, so callers can drop
// redeliveries.
func (s *Store) MarkProcessed(ctx context.Context, eventID, channelID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_events (event_id, channel_id, processed_at) VALUES (?, ?, ?)",
		eventID, channelID, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("store: mark event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark event %s: %w", eventID, err)
	}
	return n == 1, nil
}

// PruneProcessed deletes records older than maxAge and returns how many were
// removed.
func (s *Store) PruneProcessed(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_events WHERE processed_at < ?", s.now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune events: %w", err)
	}
	return res.RowsAffected()
}
