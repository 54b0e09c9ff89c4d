package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	log "github.com/sirupsen/logrus"
)

type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// MaxTaskHistory bounds the number of finished tasks kept for inspection
const MaxTaskHistory = 100

const (
	taskIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	taskIDLength   = 12
)

// Task is a snapshot of one supervised background job
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	State     TaskState  `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Supervisor runs background work with tracked state so failures are never
// silently lost. Tasks receive the supervisor's context and should return
// when it is cancelled.
type Supervisor struct {
	ctx   context.Context
	wg    sync.WaitGroup
	mu    sync.Mutex
	tasks []*Task // oldest first
}

func NewSupervisor(ctx context.Context) *Supervisor {
	return &Supervisor{ctx: ctx}
}

// Go starts fn in the background and returns the task id
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) string {
	task := &Task{
		ID:        newTaskID(),
		Name:      name,
		State:     TaskRunning,
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.trimLocked()
	s.mu.Unlock()

	tasksRunning.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer tasksRunning.Dec()

		err := run(s.ctx, fn)
		s.finish(task, err)
	}()

	log.WithFields(log.Fields{
		"task":    name,
		"task_id": task.ID,
	}).Debug("Started task")

	return task.ID
}

// run converts a panic into a task failure
func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) finish(task *Task, err error) {
	ended := time.Now().UTC()

	s.mu.Lock()
	task.EndedAt = &ended
	if err != nil {
		task.State = TaskFailed
		task.Error = err.Error()
	} else {
		task.State = TaskSucceeded
	}
	s.trimLocked()
	s.mu.Unlock()

	fields := log.Fields{
		"task":     task.Name,
		"task_id":  task.ID,
		"duration": ended.Sub(task.StartedAt),
	}
	if err != nil {
		taskFailures.WithLabelValues(task.Name).Inc()
		fields["error"] = err
		log.WithFields(fields).Error("Task failed")
		return
	}
	log.WithFields(fields).Debug("Task finished")
}

// trimLocked drops the oldest finished tasks beyond MaxTaskHistory. Running
// tasks are always kept.
func (s *Supervisor) trimLocked() {
	excess := len(s.tasks) - MaxTaskHistory
	if excess <= 0 {
		return
	}
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if excess > 0 && t.State != TaskRunning {
			excess--
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
}

// Tasks returns a snapshot of known tasks, newest first
func (s *Supervisor) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for i := len(s.tasks) - 1; i >= 0; i-- {
		t := *s.tasks[i]
		if t.EndedAt != nil {
			ended := *t.EndedAt
			t.EndedAt = &ended
		}
		out = append(out, t)
	}
	return out
}

// Task looks up a single task by id
func (s *Supervisor) Task(id string) (Task, bool) {
	for _, t := range s.Tasks() {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Wait blocks until every started task has returned
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func newTaskID() string {
	id, err := nanoid.Generate(taskIDAlphabet, taskIDLength)
	if err != nil {
		// crypto/rand failure; fall back to a timestamp so the task is still tracked
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return id
}
