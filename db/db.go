package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"streamhub/models"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DB handles all database operations with a shared connection pool
type DB struct {
	db *sql.DB
}

var _ Store = (*DB)(nil)

func (db *DB) Close() error {
	return db.db.Close()
}

// Write operations

// Postgres caps a statement at 65535 bind parameters; six per row.
var maxRowsPerStatement = 1000

// UpsertItems writes the batch as multi-row statements of up to
// maxRowsPerStatement records, one round trip each. A statement that fails
// writes nothing, so when the database rejects a record (constraint or data
// error) that chunk is replayed one record per statement and the offending
// record is logged and skipped. Any other error aborts the batch.
func (db *DB) UpsertItems(ctx context.Context, items []models.Item) (int64, error) {
	batch := models.DedupeItems(items)
	if len(batch) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var written int64
	var skipped int

	for _, chunk := range lo.Chunk(batch, maxRowsPerStatement) {
		n, err := db.execUpsert(ctx, chunk, now)
		if err == nil {
			written += n
			continue
		}
		if !isRecordError(err) {
			return written, err
		}

		log.WithFields(log.Fields{
			"rows":  len(chunk),
			"error": err,
		}).Debug("Statement rejected, writing records one at a time")

		for _, item := range chunk {
			n, err := db.execUpsert(ctx, []models.Item{item}, now)
			if err != nil {
				if isRecordError(err) {
					skipped++
					log.WithFields(log.Fields{
						"stream":     item.Stream,
						"created_at": item.CreatedAt.Format(time.RFC3339),
						"error":      err,
					}).Warn("Skipping item rejected by database")
					continue
				}
				return written, err
			}
			written += n
		}
	}

	log.WithFields(log.Fields{
		"batch":   len(batch),
		"written": written,
		"skipped": skipped,
	}).Info("Upserted items")

	return written, nil
}

func (db *DB) execUpsert(ctx context.Context, items []models.Item, now time.Time) (int64, error) {
	sql, args := upsertItemsQuery(items, now)

	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Records whose values did not change are left untouched, so RowsAffected
// counts only inserted or modified rows. Keys must be unique within items.
func upsertItemsQuery(items []models.Item, now time.Time) (string, []interface{}) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("items").
		Cols("stream", "created_at", "topic", "image", "data", "indexed_at")
	for _, item := range items {
		ib.Values(item.Stream, item.CreatedAt.UTC(), string(item.Topic), item.Image, item.Data, now)
	}
	ib.SQL(`ON CONFLICT (stream, created_at) DO UPDATE SET
		topic = EXCLUDED.topic,
		image = EXCLUDED.image,
		data = EXCLUDED.data,
		indexed_at = EXCLUDED.indexed_at
	WHERE (items.topic, items.image, items.data) IS DISTINCT FROM (EXCLUDED.topic, EXCLUDED.image, EXCLUDED.data)`)

	return ib.Build()
}

// isRecordError reports whether err is scoped to the record being written
// (data exception or integrity constraint violation) rather than to the
// connection.
func isRecordError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "22" || class == "23"
}

func (db *DB) Subscribe(ctx context.Context, sub models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("subscriptions").
		Cols("user_id", "topic", "created_at").
		Values(sub.UserID, string(sub.Topic), time.Now().UTC())
	ib.SQL("ON CONFLICT (user_id, topic) DO NOTHING")

	sql, args := ib.Build()
	if _, err := db.db.ExecContext(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id": sub.UserID,
		"topic":   sub.Topic,
	}).Info("Subscribed user to topic")

	return nil
}
