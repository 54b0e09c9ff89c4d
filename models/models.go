package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrInvalidItem is wrapped by every item validation failure
var ErrInvalidItem = errors.New("invalid item")

// Item is a single piece of content published on a provider stream.
// The pair (Stream, CreatedAt) identifies an item.
type Item struct {
	CreatedAt time.Time `json:"created_at"`
	Stream    string    `json:"stream"`
	Topic     Topic     `json:"topic"`
	Image     string    `json:"image"`
	Data      string    `json:"data"`
}

// Key returns the identity of the item
func (i Item) Key() ItemKey {
	return ItemKey{Stream: i.Stream, CreatedAt: i.CreatedAt.UTC().UnixNano()}
}

// ItemKey is the composite identity of an item
type ItemKey struct {
	Stream    string
	CreatedAt int64
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.Stream) == "" {
		return fmt.Errorf("%w: stream is required", ErrInvalidItem)
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidItem)
	}
	if !i.Topic.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidItem, ErrUnknownTopic, string(i.Topic))
	}
	return nil
}

// Wire representation with pointers so that missing fields can be told
// apart from empty ones.
type rawItem struct {
	CreatedAt *string `json:"created_at"`
	Stream    *string `json:"stream"`
	Topic     *string `json:"topic"`
	Image     *string `json:"image"`
	Data      *string `json:"data"`
}

// ParseItem decodes and validates a single JSON item
func ParseItem(data []byte) (Item, error) {
	var raw rawItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	missing := []string{}
	if raw.CreatedAt == nil {
		missing = append(missing, "created_at")
	}
	if raw.Stream == nil {
		missing = append(missing, "stream")
	}
	if raw.Topic == nil {
		missing = append(missing, "topic")
	}
	if raw.Image == nil {
		missing = append(missing, "image")
	}
	if raw.Data == nil {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return Item{}, fmt.Errorf("%w: missing fields %s", ErrInvalidItem, strings.Join(missing, ", "))
	}

	createdAt, err := parseTimestamp(*raw.CreatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("%w: created_at: %w", ErrInvalidItem, err)
	}

	topic, err := ParseTopic(*raw.Topic)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	item := Item{
		CreatedAt: createdAt.UTC(),
		Stream:    *raw.Stream,
		Topic:     topic,
		Image:     *raw.Image,
		Data:      *raw.Data,
	}
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Timestamps without a zone are taken as UTC
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC3339 and ISO-8601 date-times without a zone
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if zt, zerr := time.ParseInLocation(layout, value, time.UTC); zerr == nil {
			return zt, nil
		}
	}
	return time.Time{}, err
}

// ParseItems decodes a JSON array of items. A single invalid element fails
// the whole array.
func ParseItems(data []byte) ([]Item, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON array: %w", ErrInvalidItem, err)
	}
	// A JSON null decodes to a nil slice without error
	if raws == nil {
		return nil, fmt.Errorf("%w: expected a JSON array, got null", ErrInvalidItem)
	}

	items := make([]Item, 0, len(raws))
	for i, raw := range raws {
		item, err := ParseItem(raw)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Subscription binds a user to a topic
type Subscription struct {
	UserID string `json:"user_id"`
	Topic  Topic  `json:"topic"`
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("user_id is required")
	}
	if !s.Topic.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, string(s.Topic))
	}
	return nil
}

// DedupeItems collapses items sharing a key, keeping the last occurrence.
// The order of the result is unspecified.
func DedupeItems(items []Item) []Item {
	reversed := lo.Reverse(append([]Item(nil), items...))
	return lo.UniqBy(reversed, Item.Key)
}
