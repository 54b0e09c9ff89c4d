package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamhub/aggregator"
	"streamhub/events"
	"streamhub/models"
	"streamhub/sources"

	log "github.com/sirupsen/logrus"
)

// ErrStreamMismatch is returned when a pushed item names a different stream
// than the webhook path it arrived on.
var ErrStreamMismatch = errors.New("item stream does not match webhook path")

// Passer runs one aggregation pass
type Passer interface {
	Run(ctx context.Context) (aggregator.Report, error)
}

// Handshaker registers the webhook callback with every stream
type Handshaker interface {
	SubscribeAll(ctx context.Context, streams []sources.Stream, serviceBaseURL string) sources.HandshakeReport
}

type Config struct {
	Aggregator Passer
	Handshaker Handshaker
	Streams    []sources.Stream
	Store      aggregator.ItemWriter
	Publisher  events.Publisher
	Supervisor *Supervisor

	// BaseURL is the public address providers push webhooks to
	BaseURL      string
	PollInterval time.Duration
}

// Coordinator owns both delivery paths: pushed items from provider webhooks
// and the periodic fallback poll.
type Coordinator struct {
	aggregator Passer
	handshaker Handshaker
	streams    []sources.Stream
	store      aggregator.ItemWriter
	publisher  events.Publisher
	supervisor *Supervisor
	baseURL    string
	interval   time.Duration
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = NewSupervisor(context.Background())
	}
	return &Coordinator{
		aggregator: cfg.Aggregator,
		handshaker: cfg.Handshaker,
		streams:    cfg.Streams,
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		supervisor: cfg.Supervisor,
		baseURL:    cfg.BaseURL,
		interval:   cfg.PollInterval,
	}
}

func (c *Coordinator) Supervisor() *Supervisor {
	return c.supervisor
}

// Start runs the initial pass, registers webhooks and then hands the poll
// loop to the supervisor. Source and handshake failures are logged; a
// storage failure on the initial pass is recorded on its task. Start only
// returns an error if ctx ends first.
func (c *Coordinator) Start(ctx context.Context) error {
	done := make(chan struct{})
	c.supervisor.Go("initial-sync", func(ctx context.Context) error {
		defer close(done)
		_, err := c.aggregator.Run(ctx)
		return err
	})

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.Handshake(ctx)
	c.supervisor.Go("poll", c.Run)

	log.WithFields(log.Fields{
		"streams":  len(c.streams),
		"interval": c.interval,
	}).Info("Delivery coordinator started")
	return nil
}

// Run is the fallback poll loop. The interval is a cooldown counted from the
// end of the previous pass, so passes from this loop never overlap. It
// returns nil once ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if _, err := c.aggregator.Run(ctx); err != nil {
			log.WithError(err).Error("Scheduled aggregation pass failed")
		}
		timer.Reset(c.interval)
	}
}

// TriggerSync schedules one immediate pass outside of the poll loop and
// returns its task id. The loop's timer is not affected.
func (c *Coordinator) TriggerSync() string {
	return c.supervisor.Go("sync", func(ctx context.Context) error {
		_, err := c.aggregator.Run(ctx)
		return err
	})
}

// TriggerHandshake schedules a handshake run and returns its task id. The
// task fails if any stream rejected the subscription.
func (c *Coordinator) TriggerHandshake() string {
	return c.supervisor.Go("handshake", func(ctx context.Context) error {
		report := c.Handshake(ctx)
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d of %d streams failed the handshake", len(report.Failed), len(c.streams))
		}
		return nil
	})
}

// Handshake subscribes this service's callback URL with every stream
func (c *Coordinator) Handshake(ctx context.Context) sources.HandshakeReport {
	return c.handshaker.SubscribeAll(ctx, c.streams, c.baseURL)
}

// IngestPushed persists one item received on the webhook for pathStream and
// returns the number of records inserted or modified.
func (c *Coordinator) IngestPushed(ctx context.Context, pathStream string, item models.Item) (int64, error) {
	if item.Stream != pathStream {
		pushedItems.WithLabelValues("mismatch").Inc()
		return 0, fmt.Errorf("%w: path %q, item %q", ErrStreamMismatch, pathStream, item.Stream)
	}
	if err := item.Validate(); err != nil {
		pushedItems.WithLabelValues("invalid").Inc()
		return 0, err
	}

	persisted, err := c.store.UpsertItems(ctx, []models.Item{item})
	if err != nil {
		pushedItems.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("persist pushed item: %w", err)
	}
	pushedItems.WithLabelValues("ok").Inc()
	aggregator.CountPersisted(events.SourcePush, persisted)

	if err := c.publisher.Publish(ctx, events.TopicItemsIngested, events.ItemsIngested{
		Source:    events.SourcePush,
		Items:     []models.Item{item},
		Persisted: persisted,
	}); err != nil {
		log.WithError(err).Warn("Failed to publish ingest event")
	}

	log.WithFields(log.Fields{
		"stream":     item.Stream,
		"created_at": item.CreatedAt.Format(time.RFC3339),
		"persisted":  persisted,
	}).Debug("Ingested pushed item")

	return persisted, nil
}

// Tasks returns the supervisor's task snapshot, newest first
func (c *Coordinator) Tasks() []Task {
	return c.supervisor.Tasks()
}
