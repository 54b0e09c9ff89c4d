package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// ConnectTimeout bounds how long Open waits for the database to come up
var ConnectTimeout = 30 * time.Second

// Open connects to PostgreSQL, waits for it to accept connections, and
// applies pending migrations. The returned DB owns the pool; call Close when
// the process shuts down.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(20)           // Allow concurrent fetch passes and queries
	conn.SetMaxIdleConns(10)           // Keep some connections ready
	conn.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	conn.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	if err := waitForDatabase(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: conn}, nil
}

func waitForDatabase(ctx context.Context, conn *sql.DB) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = ConnectTimeout

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.PingContext(pingCtx)
	}

	return backoff.RetryNotify(ping, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"error": err,
			"wait":  wait,
		}).Warn("Database not ready, retrying")
	})
}
