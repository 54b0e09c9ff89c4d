package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamhub/events"
	"streamhub/models"
	"streamhub/sources"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// StreamFetcher fetches the current window of one stream
type StreamFetcher interface {
	Fetch(ctx context.Context, stream sources.Stream) ([]models.Item, error)
}

// ItemWriter is the part of the store a pass writes to
type ItemWriter interface {
	UpsertItems(ctx context.Context, items []models.Item) (int64, error)
}

// Report summarises one aggregation pass
type Report struct {
	Streams   int           `json:"streams"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Fetched   int           `json:"fetched"`
	Persisted int64         `json:"persisted"`
	Duration  time.Duration `json:"duration"`
}

// Aggregator runs aggregation passes over every registered stream
type Aggregator struct {
	streams   []sources.Stream
	fetcher   StreamFetcher
	store     ItemWriter
	publisher events.Publisher
}

func New(registry *sources.Registry, fetcher StreamFetcher, store ItemWriter, publisher events.Publisher) *Aggregator {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	return &Aggregator{
		streams:   registry.Streams(),
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
	}
}

type fetchResult struct {
	items []models.Item
	err   error
}

// Run fetches every stream concurrently, merges the successful results and
// writes them with a single upsert. A failing stream only loses its own
// contribution; the returned error is reserved for storage failures.
func (a *Aggregator) Run(ctx context.Context) (report Report, err error) {
	start := time.Now()
	report.Streams = len(a.streams)
	defer func() {
		report.Duration = time.Since(start)
		passDuration.Observe(report.Duration.Seconds())
	}()

	results := make([]fetchResult, len(a.streams))
	var wg sync.WaitGroup
	for i, stream := range a.streams {
		wg.Add(1)
		go func(i int, stream sources.Stream) {
			defer wg.Done()
			items, err := a.fetcher.Fetch(ctx, stream)
			results[i] = fetchResult{items: items, err: err}
		}(i, stream)
	}
	wg.Wait()

	batches := make([][]models.Item, 0, len(results))
	for i, res := range results {
		if res.err != nil {
			report.Failed++
			log.WithFields(log.Fields{
				"stream": a.streams[i].String(),
				"error":  res.err,
			}).Warn("Stream fetch failed")
			continue
		}
		report.Succeeded++
		if len(res.items) > 0 {
			batches = append(batches, res.items)
		}
	}

	batch := lo.Flatten(batches)
	report.Fetched = len(batch)

	if len(batch) == 0 {
		log.WithFields(log.Fields{
			"streams": report.Streams,
			"failed":  report.Failed,
		}).Info("Aggregation pass found no items")
		return report, nil
	}

	persisted, err := a.store.UpsertItems(ctx, batch)
	report.Persisted = persisted
	if err != nil {
		passFailures.Inc()
		return report, fmt.Errorf("persist %d items: %w", len(batch), err)
	}
	itemsPersisted.WithLabelValues(events.SourcePoll).Add(float64(persisted))

	if err := a.publisher.Publish(ctx, events.TopicItemsIngested, events.ItemsIngested{
		Source:    events.SourcePoll,
		Items:     batch,
		Persisted: persisted,
	}); err != nil {
		log.WithError(err).Warn("Failed to publish ingest event")
	}

	log.WithFields(log.Fields{
		"streams":   report.Streams,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"fetched":   report.Fetched,
		"persisted": report.Persisted,
		"took":      time.Since(start),
	}).Info("Aggregation pass finished")

	return report, nil
}
