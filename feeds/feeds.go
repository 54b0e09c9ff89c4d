package feeds

import (
	"context"
	"fmt"

	"streamhub/db"
	"streamhub/models"

	log "github.com/sirupsen/logrus"
)

// Service answers item queries on behalf of users. It reads the store on
// every call so results always reflect the latest ingested items.
type Service struct {
	store db.Store
}

func NewService(store db.Store) *Service {
	return &Service{store: store}
}

// GetSubscribedItems returns the newest items in any topic the user follows.
// A user with no subscriptions gets an empty result without an item query.
func (s *Service) GetSubscribedItems(ctx context.Context, userID string, limit int) ([]models.Item, error) {
	topics, err := s.store.GetSubscribedTopics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get subscriptions for %s: %w", userID, err)
	}
	if len(topics) == 0 {
		return []models.Item{}, nil
	}

	items, err := s.store.GetItemsByTopics(ctx, topics, limit)
	if err != nil {
		return nil, fmt.Errorf("get items for %s: %w", userID, err)
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"topics":  topics,
		"items":   len(items),
	}).Debug("Served subscribed items")

	return items, nil
}

func (s *Service) GetAllItems(ctx context.Context, limit int) ([]models.Item, error) {
	return s.store.GetAllItems(ctx, limit)
}

func (s *Service) GetSubscribedTopics(ctx context.Context, userID string) ([]models.Topic, error) {
	return s.store.GetSubscribedTopics(ctx, userID)
}

// Subscribe follows a topic by name. Unknown topics fail with
// models.ErrUnknownTopic.
func (s *Service) Subscribe(ctx context.Context, userID, topic string) (models.Subscription, error) {
	t, err := models.ParseTopic(topic)
	if err != nil {
		return models.Subscription{}, err
	}

	sub := models.Subscription{UserID: userID, Topic: t}
	if err := s.store.Subscribe(ctx, sub); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}
