// Package memory provides a process-local db.Store used when no database URL
// is configured and in tests. Contents do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"streamhub/db"
	"streamhub/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	mu    sync.RWMutex
	items map[models.ItemKey]models.Item
	subs  map[string]map[models.Topic]struct{}
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		items: make(map[models.ItemKey]models.Item),
		subs:  make(map[string]map[models.Topic]struct{}),
	}
}

func (s *Store) UpsertItems(ctx context.Context, items []models.Item) (int64, error) {
	batch := models.DedupeItems(items)
	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var written int64
	for _, item := range batch {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		key := item.Key()
		if existing, ok := s.items[key]; ok && existing == item {
			continue
		}
		s.items[key] = item
		written++
	}

	log.WithFields(log.Fields{
		"batch":   len(batch),
		"written": written,
	}).Debug("Upserted items in memory")

	return written, nil
}

func (s *Store) GetAllItems(ctx context.Context, limit int) ([]models.Item, error) {
	return s.collect(db.NormalizeLimit(limit), func(models.Item) bool { return true }), nil
}

func (s *Store) GetItemsByTopics(ctx context.Context, topics []models.Topic, limit int) ([]models.Item, error) {
	if len(topics) == 0 {
		return []models.Item{}, nil
	}
	return s.collect(db.NormalizeLimit(limit), func(item models.Item) bool {
		return lo.Contains(topics, item.Topic)
	}), nil
}

// collect returns matching items newest first, ties broken by stream name
func (s *Store) collect(limit int, keep func(models.Item) bool) []models.Item {
	s.mu.RLock()
	matched := lo.Filter(lo.Values(s.items), func(item models.Item, _ int) bool {
		return keep(item)
	})
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Stream < matched[j].Stream
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func (s *Store) Subscribe(ctx context.Context, sub models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	topics, ok := s.subs[sub.UserID]
	if !ok {
		topics = make(map[models.Topic]struct{})
		s.subs[sub.UserID] = topics
	}
	topics[sub.Topic] = struct{}{}
	return nil
}

func (s *Store) GetSubscribedTopics(ctx context.Context, userID string) ([]models.Topic, error) {
	s.mu.RLock()
	topics := lo.Keys(s.subs[userID])
	s.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics, nil
}

func (s *Store) Close() error {
	return nil
}
