// Package tasks runs background work that outlives the request that
// started it. Every task has an id, a status and a completion signal, and
// its outcome is always logged.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/newsledger/internal/logging"
)

// ErrAlreadyRunning is returned by Start when a task with the same name holds the lock
var ErrAlreadyRunning = errors.New("task already running")

// ErrShutdown is returned by Start after Shutdown
var ErrShutdown = errors.New("supervisor shut down")

// Status is a task lifecycle state
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Func is the body of a task. Its result is reported through Task.Result.
type Func func(ctx context.Context) (any, error)

// Task is a point-in-time view of a supervised task
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
}

type entry struct {
	task Task
	done chan struct{}
}

// Supervisor owns background tasks for the lifetime of a process
type Supervisor struct {
	locker  Locker
	lockTTL time.Duration
	keep    int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*entry
	closed bool
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLocker replaces the in-process locker, e.g. with a RedisLocker
func WithLocker(l Locker) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTTL bounds how long a crashed holder can block other starts
func WithLockTTL(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetention sets how many finished tasks are remembered
func WithRetention(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.keep = n
		}
	}
}

// NewSupervisor creates a supervisor. Call Shutdown to cancel and wait for
// outstanding tasks.
func NewSupervisor(opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		locker:  NewLocalLocker(),
		lockTTL: time.Hour,
		keep:    50,
		logger:  logging.Discard(),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches fn in the background under name and returns immediately.
// At most one task per name runs at a time.
func (s *Supervisor) Start(ctx context.Context, name string, fn Func) (Task, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Task{}, ErrShutdown
	}

	release, err := s.locker.Acquire(ctx, name, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return Task{}, fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
		}
		return Task{}, err
	}

	e := &entry{
		task: Task{
			ID:        uuid.NewString(),
			Name:      name,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return Task{}, ErrShutdown
	}
	s.tasks[e.task.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("task started", "task", name, "id", e.task.ID)
	go s.run(e, fn, release)

	return e.task, nil
}

func (s *Supervisor) run(e *entry, fn Func, release func()) {
	defer s.wg.Done()
	defer release()

	result, err := s.call(fn)

	finished := time.Now().UTC()
	s.mu.Lock()
	e.task.FinishedAt = &finished
	e.task.Result = result
	if err != nil {
		e.task.Status = StatusFailed
		e.task.Error = err.Error()
	} else {
		e.task.Status = StatusSucceeded
	}
	snapshot := e.task
	s.pruneLocked()
	s.mu.Unlock()
	close(e.done)

	duration := finished.Sub(snapshot.StartedAt)
	if err != nil {
		s.logger.Error("task failed", "task", snapshot.Name, "id", snapshot.ID, "duration", duration, "error", err)
		return
	}
	s.logger.Info("task finished", "task", snapshot.Name, "id", snapshot.ID, "duration", duration)
}

func (s *Supervisor) call(fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// pruneLocked forgets the oldest finished tasks beyond the retention limit
func (s *Supervisor) pruneLocked() {
	var finished []*entry
	for _, e := range s.tasks {
		if e.task.FinishedAt != nil {
			finished = append(finished, e)
		}
	}
	if len(finished) <= s.keep {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].task.FinishedAt.Before(*finished[j].task.FinishedAt)
	})
	for _, e := range finished[:len(finished)-s.keep] {
		delete(s.tasks, e.task.ID)
	}
}

// Get returns the current view of a task
func (s *Supervisor) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// List returns known tasks, newest first
func (s *Supervisor) List() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until the task finishes or ctx is done and returns its final view
func (s *Supervisor) Wait(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("task %s: not found", id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.task, nil
}

// Shutdown cancels running tasks and waits for them to return or ctx to end
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
