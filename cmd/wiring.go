/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"streamhub/config"
	"streamhub/db"
	"streamhub/db/memory"
	"streamhub/events"
	"streamhub/sources"

	log "github.com/sirupsen/logrus"
)

func loadRegistry(path string) (*sources.Registry, error) {
	file, err := config.LoadProviders(path)
	if err != nil {
		return nil, err
	}
	registry, err := sources.NewRegistry(file.Providers)
	if err != nil {
		return nil, fmt.Errorf("invalid providers file %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"providers": len(file.Providers),
		"streams":   registry.Len(),
	}).Info("Loaded provider registry")
	return registry, nil
}

// openStore connects to PostgreSQL, or falls back to the in-memory store
// when no database URL is configured
func openStore(ctx context.Context, databaseURL string) (db.Store, error) {
	if databaseURL == "" {
		log.Warn("No database URL configured, items are kept in memory only")
		return memory.New(), nil
	}

	store, err := db.Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to PostgreSQL")
	return store, nil
}

// newPublisher returns the NATS publisher when a URL is set, otherwise a no-op
func newPublisher(natsURL string) (events.Publisher, error) {
	if natsURL == "" {
		return &events.NoopPublisher{}, nil
	}

	pub, err := events.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, err
	}
	log.WithField("url", natsURL).Info("Publishing ingest events to NATS")
	return pub, nil
}
