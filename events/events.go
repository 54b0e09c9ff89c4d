package events

import (
	"context"
	"errors"

	"streamhub/models"
)

// Event topic constants
const (
	TopicItemsIngested = "aggregator.items.ingested"
)

// Ingest sources
const (
	SourcePoll = "poll"
	SourcePush = "push"
)

// ItemsIngested is emitted after a batch has been written to the store
type ItemsIngested struct {
	Source    string        `json:"source"`
	Items     []models.Item `json:"items"`
	Persisted int64         `json:"persisted"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Multi fans every event out to all publishers. Errors are joined; one
// failing publisher does not stop the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
