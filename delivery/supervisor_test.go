package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorRecordsOutcomes(t *testing.T) {
	s := NewSupervisor(context.Background())

	okID := s.Go("ok", func(ctx context.Context) error { return nil })
	failID := s.Go("fail", func(ctx context.Context) error { return errors.New("storage down") })
	panicID := s.Go("panic", func(ctx context.Context) error { panic("boom") })
	s.Wait()

	ok, found := s.Task(okID)
	require.True(t, found)
	assert.Equal(t, TaskSucceeded, ok.State)
	assert.NotNil(t, ok.EndedAt)
	assert.Empty(t, ok.Error)

	failed, found := s.Task(failID)
	require.True(t, found)
	assert.Equal(t, TaskFailed, failed.State)
	assert.Equal(t, "storage down", failed.Error)

	panicked, found := s.Task(panicID)
	require.True(t, found)
	assert.Equal(t, TaskFailed, panicked.State)
	assert.Contains(t, panicked.Error, "boom")
}

func TestSupervisorTasksNewestFirst(t *testing.T) {
	s := NewSupervisor(context.Background())

	first := s.Go("a", func(ctx context.Context) error { return nil })
	second := s.Go("b", func(ctx context.Context) error { return nil })
	s.Wait()

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, second, tasks[0].ID)
	assert.Equal(t, first, tasks[1].ID)
	assert.NotEqual(t, first, second)
}

func TestSupervisorRunningState(t *testing.T) {
	s := NewSupervisor(context.Background())

	release := make(chan struct{})
	id := s.Go("blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	task, found := s.Task(id)
	require.True(t, found)
	assert.Equal(t, TaskRunning, task.State)
	assert.Nil(t, task.EndedAt)

	close(release)
	s.Wait()

	task, _ = s.Task(id)
	assert.Equal(t, TaskSucceeded, task.State)
}

func TestSupervisorBoundsHistory(t *testing.T) {
	s := NewSupervisor(context.Background())

	for i := 0; i < MaxTaskHistory+20; i++ {
		s.Go("noop", func(ctx context.Context) error { return nil })
	}
	s.Wait()

	// One more start trims the finished backlog
	s.Go("noop", func(ctx context.Context) error { return nil })
	s.Wait()

	assert.LessOrEqual(t, len(s.Tasks()), MaxTaskHistory)
}

func TestSupervisorCancelsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(ctx)

	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}
