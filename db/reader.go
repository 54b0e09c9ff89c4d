package db

import (
	"context"
	"database/sql"
	"fmt"
	"streamhub/models"
	"streamhub/query"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

// Read operations

func (db *DB) GetAllItems(ctx context.Context, limit int) ([]models.Item, error) {
	return db.getItems(ctx, NormalizeLimit(limit))
}

func (db *DB) GetItemsByTopics(ctx context.Context, topics []models.Topic, limit int) ([]models.Item, error) {
	if len(topics) == 0 {
		return []models.Item{}, nil
	}
	return db.getItems(ctx, NormalizeLimit(limit), &query.TopicFilter{Topics: topics})
}

func (db *DB) getItems(ctx context.Context, limit int, filters ...query.FilterStrategy) ([]models.Item, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("stream", "created_at", "topic", "image", "data").From("items")

	for _, filter := range filters {
		filter.ApplyFilter(sb)
	}

	sb.OrderBy("created_at DESC", "stream ASC")
	sb.Limit(limit)

	sql, args := sb.Build()
	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var item models.Item
		var topic string
		if err := rows.Scan(&item.Stream, &item.CreatedAt, &topic, &item.Image, &item.Data); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.Topic = models.Topic(topic)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (db *DB) GetSubscribedTopics(ctx context.Context, userID string) ([]models.Topic, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("topic").From("subscriptions").Where(sb.Equal("user_id", userID))
	sb.OrderBy("topic")

	sql, args := sb.Build()
	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	return scanTopics(rows)
}

func scanTopics(rows *sql.Rows) ([]models.Topic, error) {
	topics := []models.Topic{}
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		topics = append(topics, models.Topic(topic))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return topics, nil
}
