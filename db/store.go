package db

import (
	"context"

	"streamhub/models"
)

// DefaultLimit bounds item reads when the caller does not ask for a limit
const DefaultLimit = 100

// Store is the persistence contract shared by the PostgreSQL and in-memory
// implementations. All methods are safe for concurrent use; the uniqueness
// of (stream, created_at) and (user_id, topic) is what keeps concurrent
// writers consistent.
type Store interface {
	// UpsertItems writes a batch keyed by (stream, created_at) and returns
	// the number of records inserted or modified.
	UpsertItems(ctx context.Context, items []models.Item) (int64, error)
	GetAllItems(ctx context.Context, limit int) ([]models.Item, error)
	GetItemsByTopics(ctx context.Context, topics []models.Topic, limit int) ([]models.Item, error)

	Subscribe(ctx context.Context, sub models.Subscription) error
	GetSubscribedTopics(ctx context.Context, userID string) ([]models.Topic, error)

	Close() error
}

// NormalizeLimit applies DefaultLimit to non-positive limits
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
