package db

import (
	"context"
	"database/sql"
	"errors"
	"streamhub/models"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockDB creates a sqlmock backed DB with automatic expectation checking
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return &DB{db: conn}, mock
}

var itemColumns = []string{"stream", "created_at", "topic", "image", "data"}

func at(hour int) time.Time {
	return time.Date(2025, 1, 1, hour, 0, 0, 0, time.UTC)
}

func item(stream string, hour int, topic models.Topic, data string) models.Item {
	return models.Item{CreatedAt: at(hour), Stream: stream, Topic: topic, Image: "img", Data: data}
}

func TestUpsertItemsEmptyBatchSkipsStorage(t *testing.T) {
	db, _ := newMockDB(t)

	n, err := db.UpsertItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertItemsCountsInsertedOrModified(t *testing.T) {
	db, mock := newMockDB(t)

	// Both records go out in one statement; only one of them changed
	mock.ExpectExec("INSERT INTO items .+ VALUES \\(.+\\), \\(.+\\) ON CONFLICT \\(stream, created_at\\) DO UPDATE").
		WithArgs("s1", at(11), "news", "img", "a", sqlmock.AnyArg(), "s1", at(12), "golf", "img", "b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := db.UpsertItems(context.Background(), []models.Item{
		item("s1", 11, models.TopicNews, "a"),
		item("s1", 12, models.TopicGolf, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsertItemsSplitsLargeBatches(t *testing.T) {
	db, mock := newMockDB(t)

	old := maxRowsPerStatement
	maxRowsPerStatement = 2
	t.Cleanup(func() { maxRowsPerStatement = old })

	mock.ExpectExec("INSERT INTO items").
		WithArgs("s1", at(11), "news", "img", "a", sqlmock.AnyArg(), "s2", at(11), "news", "img", "b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO items").
		WithArgs("s3", at(11), "news", "img", "c", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := db.UpsertItems(context.Background(), []models.Item{
		item("s1", 11, models.TopicNews, "a"),
		item("s2", 11, models.TopicNews, "b"),
		item("s3", 11, models.TopicNews, "c"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestUpsertItemsCollapsesDuplicateKeysToLastWrite(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO items").
		WithArgs("s1", at(11), "food", "img", "second", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	n, err := db.UpsertItems(context.Background(), []models.Item{
		item("s1", 11, models.TopicNews, "first"),
		item("s1", 11, models.TopicFood, "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsertItemsSkipsRecordErrors(t *testing.T) {
	db, mock := newMockDB(t)

	// The whole statement is rejected, then replayed record by record
	mock.ExpectExec("INSERT INTO items").
		WithArgs("s1", at(11), "news", "img", "a", sqlmock.AnyArg(), "s2", at(12), "news", "img", "b", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23514", Message: "violates check constraint"})
	mock.ExpectExec("INSERT INTO items").
		WithArgs("s1", at(11), "news", "img", "a", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23514", Message: "violates check constraint"})
	mock.ExpectExec("INSERT INTO items").
		WithArgs("s2", at(12), "news", "img", "b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	n, err := db.UpsertItems(context.Background(), []models.Item{
		item("s1", 11, models.TopicNews, "a"),
		item("s2", 12, models.TopicNews, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsertItemsAbortsOnConnectionError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO items").
		WillReturnError(errors.New("connection reset by peer"))

	_, err := db.UpsertItems(context.Background(), []models.Item{
		item("s1", 11, models.TopicNews, "a"),
		item("s2", 12, models.TopicNews, "b"),
	})
	assert.Error(t, err)
}

func TestGetAllItems(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows(itemColumns).
		AddRow("s2", at(13), "food", "img3", "data3").
		AddRow("s1", at(12), "news", "img1", "data1")
	mock.ExpectQuery("SELECT stream, created_at, topic, image, data FROM items ORDER BY created_at DESC, stream ASC LIMIT \\$1").
		WithArgs(DefaultLimit).
		WillReturnRows(rows)

	items, err := db.GetAllItems(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "data3", items[0].Data)
	assert.Equal(t, models.TopicFood, items[0].Topic)
	assert.Equal(t, at(12), items[1].CreatedAt)
}

func TestGetAllItemsQueryError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT .+ FROM items").WillReturnError(sql.ErrConnDone)

	_, err := db.GetAllItems(context.Background(), 10)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestGetItemsByTopics(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows(itemColumns).AddRow("s1", at(12), "news", "img1", "data1")
	mock.ExpectQuery("SELECT .+ FROM items WHERE topic = ANY\\(\\$1\\) ORDER BY created_at DESC, stream ASC LIMIT \\$2").
		WithArgs(sqlmock.AnyArg(), 5).
		WillReturnRows(rows)

	items, err := db.GetItemsByTopics(context.Background(), []models.Topic{models.TopicNews, models.TopicFood}, 5)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGetItemsByTopicsEmptySkipsQuery(t *testing.T) {
	db, _ := newMockDB(t)

	items, err := db.GetItemsByTopics(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestSubscribeIsIdempotentUpsert(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO subscriptions .+ ON CONFLICT \\(user_id, topic\\) DO NOTHING").
		WithArgs("u1", "news", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscriptions .+ ON CONFLICT \\(user_id, topic\\) DO NOTHING").
		WithArgs("u1", "news", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sub := models.Subscription{UserID: "u1", Topic: models.TopicNews}
	require.NoError(t, db.Subscribe(context.Background(), sub))
	require.NoError(t, db.Subscribe(context.Background(), sub))
}

func TestSubscribeRejectsInvalid(t *testing.T) {
	db, _ := newMockDB(t)

	err := db.Subscribe(context.Background(), models.Subscription{UserID: "u1", Topic: "chess"})
	assert.ErrorIs(t, err, models.ErrUnknownTopic)

	err = db.Subscribe(context.Background(), models.Subscription{Topic: models.TopicNews})
	assert.Error(t, err)
}

func TestGetSubscribedTopics(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT topic FROM subscriptions WHERE user_id = \\$1 ORDER BY topic").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"topic"}).AddRow("food").AddRow("news"))

	topics, err := db.GetSubscribedTopics(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []models.Topic{models.TopicFood, models.TopicNews}, topics)
}

func TestGetSubscribedTopicsNone(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT topic FROM subscriptions").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"topic"}))

	topics, err := db.GetSubscribedTopics(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestIsRecordError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "invalid datetime", err: &pq.Error{Code: "22007"}, want: true},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, want: false},
		{name: "plain error", err: errors.New("eof"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRecordError(tt.err))
		})
	}
}
