package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamhub/aggregator"
	"streamhub/db/memory"
	"streamhub/events"
	"streamhub/models"
	"streamhub/sources"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePasser struct {
	runs atomic.Int32
	err  error
}

func (f *fakePasser) Run(ctx context.Context) (aggregator.Report, error) {
	f.runs.Add(1)
	return aggregator.Report{}, f.err
}

type fakeHandshaker struct {
	mu      sync.Mutex
	calls   int
	baseURL string
	failed  map[string]string
}

func (f *fakeHandshaker) SubscribeAll(ctx context.Context, streams []sources.Stream, serviceBaseURL string) sources.HandshakeReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.baseURL = serviceBaseURL
	failed := f.failed
	if failed == nil {
		failed = map[string]string{}
	}
	return sources.HandshakeReport{Succeeded: []string{}, Failed: failed}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ItemsIngested
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(events.ItemsIngested))
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

var testStreams = []sources.Stream{
	{Provider: "p", BaseURL: "http://provider", Name: "s1"},
	{Provider: "p", BaseURL: "http://provider", Name: "s2"},
}

func newCoordinator(t *testing.T, passer Passer, hs Handshaker, interval time.Duration) (*Coordinator, *memory.Store, *recordingPublisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(ctx)
	t.Cleanup(func() {
		cancel()
		sup.Wait()
	})

	store := memory.New()
	pub := &recordingPublisher{}
	c := NewCoordinator(Config{
		Aggregator:   passer,
		Handshaker:   hs,
		Streams:      testStreams,
		Store:        store,
		Publisher:    pub,
		Supervisor:   sup,
		BaseURL:      "http://hub",
		PollInterval: interval,
	})
	return c, store, pub
}

func pushedItem(stream string) models.Item {
	return models.Item{
		CreatedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Stream:    stream,
		Topic:     models.TopicNews,
		Data:      "pushed",
	}
}

func TestIngestPushed(t *testing.T) {
	c, store, pub := newCoordinator(t, &fakePasser{}, &fakeHandshaker{}, time.Hour)

	n, err := c.IngestPushed(context.Background(), "s1", pushedItem("s1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, _ := store.GetAllItems(context.Background(), 0)
	assert.Len(t, items, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.SourcePush, pub.events[0].Source)
}

func TestIngestPushedStreamMismatch(t *testing.T) {
	c, store, pub := newCoordinator(t, &fakePasser{}, &fakeHandshaker{}, time.Hour)

	_, err := c.IngestPushed(context.Background(), "s1", pushedItem("s2"))
	assert.ErrorIs(t, err, ErrStreamMismatch)

	items, _ := store.GetAllItems(context.Background(), 0)
	assert.Empty(t, items)
	assert.Empty(t, pub.events)
}

func TestIngestPushedInvalidItem(t *testing.T) {
	c, _, _ := newCoordinator(t, &fakePasser{}, &fakeHandshaker{}, time.Hour)

	item := pushedItem("s1")
	item.Topic = "chess"
	_, err := c.IngestPushed(context.Background(), "s1", item)
	assert.ErrorIs(t, err, models.ErrInvalidItem)
}

func TestStartRunsPassHandshakeAndLoop(t *testing.T) {
	passer := &fakePasser{}
	hs := &fakeHandshaker{}
	c, _, _ := newCoordinator(t, passer, hs, 10*time.Millisecond)

	require.NoError(t, c.Start(context.Background()))
	assert.GreaterOrEqual(t, passer.runs.Load(), int32(1))
	assert.Equal(t, 1, hs.calls)
	assert.Equal(t, "http://hub", hs.baseURL)

	// The poll loop keeps running passes
	assert.Eventually(t, func() bool { return passer.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestStartSurvivesStorageFailure(t *testing.T) {
	passer := &fakePasser{err: errors.New("storage down")}
	c, _, _ := newCoordinator(t, passer, &fakeHandshaker{}, time.Hour)

	require.NoError(t, c.Start(context.Background()))

	var initial *Task
	for _, task := range c.Supervisor().Tasks() {
		if task.Name == "initial-sync" {
			task := task
			initial = &task
		}
	}
	require.NotNil(t, initial)
	assert.Eventually(t, func() bool {
		task, _ := c.Supervisor().Task(initial.ID)
		return task.State == TaskFailed
	}, time.Second, 5*time.Millisecond)
}

func TestRunWaitsForInterval(t *testing.T) {
	passer := &fakePasser{}
	c, _, _ := newCoordinator(t, passer, &fakeHandshaker{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll loop did not stop")
	}
	assert.Equal(t, int32(0), passer.runs.Load())
}

func TestTriggerSync(t *testing.T) {
	passer := &fakePasser{}
	c, _, _ := newCoordinator(t, passer, &fakeHandshaker{}, time.Hour)

	id := c.TriggerSync()
	assert.NotEmpty(t, id)
	assert.Eventually(t, func() bool {
		task, ok := c.Supervisor().Task(id)
		return ok && task.State == TaskSucceeded
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), passer.runs.Load())
}

func TestTriggerHandshakeFailsOnRejectedStream(t *testing.T) {
	hs := &fakeHandshaker{failed: map[string]string{"p/s1": "status 502"}}
	c, _, _ := newCoordinator(t, &fakePasser{}, hs, time.Hour)

	id := c.TriggerHandshake()
	assert.Eventually(t, func() bool {
		task, ok := c.Supervisor().Task(id)
		return ok && task.State == TaskFailed
	}, time.Second, 5*time.Millisecond)
}

type pass struct {
	start, end time.Time
}

// slowPasser records the wall-clock span of every pass
type slowPasser struct {
	mu     sync.Mutex
	passes []pass
	took   time.Duration
}

func (s *slowPasser) Run(ctx context.Context) (aggregator.Report, error) {
	start := time.Now()
	time.Sleep(s.took)
	s.mu.Lock()
	s.passes = append(s.passes, pass{start: start, end: time.Now()})
	s.mu.Unlock()
	return aggregator.Report{}, nil
}

func (s *slowPasser) snapshot() []pass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pass(nil), s.passes...)
}

func TestRunCooldownStartsAfterPassEnds(t *testing.T) {
	const interval = 10 * time.Millisecond
	passer := &slowPasser{took: 20 * time.Millisecond}
	c, _, _ := newCoordinator(t, passer, &fakeHandshaker{}, interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(passer.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	passes := passer.snapshot()
	for i := 1; i < len(passes); i++ {
		gap := passes[i].start.Sub(passes[i-1].end)
		assert.GreaterOrEqual(t, gap, interval, "pass %d started %s after the previous one ended", i, gap)
	}
}
