package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// SyncState is the slice of the relay store the sync store needs.
type SyncState interface {
	SyncValue(ctx context.Context, account, key string) (string, error)
	SetSyncValue(ctx context.Context, account, key, value string) error
}

var _ mautrix.SyncStore = (*syncStore)(nil)

// syncStore persists the /sync position so a restart resumes where the
// previous run stopped instead of replaying room history.
type syncStore struct {
	state SyncState
}

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SetSyncValue(ctx, userID.String(), keyFilterID, filterID)
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.SyncValue(ctx, userID.String(), keyFilterID)
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, token string) error {
	return s.state.SetSyncValue(ctx, userID.String(), keyNextBatch, token)
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.SyncValue(ctx, userID.String(), keyNextBatch)
}
