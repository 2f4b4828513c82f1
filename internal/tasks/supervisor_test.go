package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitTask(t *testing.T, s *Supervisor, id string) Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := s.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return task
}

func TestSupervisor_Success(t *testing.T) {
	s := NewSupervisor()
	defer func() { _ = s.Shutdown(context.Background()) }()

	task, err := s.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) {
		return map[string]int{"ingested": 3}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.ID == "" || task.Status != StatusRunning {
		t.Errorf("unexpected start view: %+v", task)
	}

	final := waitTask(t, s, task.ID)
	if final.Status != StatusSucceeded || final.FinishedAt == nil {
		t.Errorf("expected succeeded task, got %+v", final)
	}
	if m, ok := final.Result.(map[string]int); !ok || m["ingested"] != 3 {
		t.Errorf("unexpected result %v", final.Result)
	}
}

func TestSupervisor_FailureAndPanic(t *testing.T) {
	s := NewSupervisor()
	defer func() { _ = s.Shutdown(context.Background()) }()

	failed, _ := s.Start(context.Background(), "a", func(ctx context.Context) (any, error) {
		return nil, errors.New("fetch phase: feed unreachable")
	})
	panicked, _ := s.Start(context.Background(), "b", func(ctx context.Context) (any, error) {
		panic("nil map")
	})

	if got := waitTask(t, s, failed.ID); got.Status != StatusFailed || got.Error != "fetch phase: feed unreachable" {
		t.Errorf("unexpected failed task %+v", got)
	}
	if got := waitTask(t, s, panicked.ID); got.Status != StatusFailed || got.Error != "panic: nil map" {
		t.Errorf("unexpected panicked task %+v", got)
	}
}

func TestSupervisor_SingleFlightPerName(t *testing.T) {
	s := NewSupervisor()
	defer func() { _ = s.Shutdown(context.Background()) }()

	release := make(chan struct{})
	first, err := s.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	// Another name is independent
	other, err := s.Start(context.Background(), "score", func(ctx context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("independent task rejected: %v", err)
	}
	waitTask(t, s, other.ID)

	close(release)
	waitTask(t, s, first.ID)

	// Lock released after completion
	again, err := s.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("expected restart after completion, got %v", err)
	}
	waitTask(t, s, again.ID)
}

func TestSupervisor_TaskOutlivesRequestContext(t *testing.T) {
	s := NewSupervisor()
	defer func() { _ = s.Shutdown(context.Background()) }()

	reqCtx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	task, err := s.Start(reqCtx, "refresh", func(ctx context.Context) (any, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return "done", ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	cancel()

	if got := waitTask(t, s, task.ID); got.Status != StatusSucceeded {
		t.Errorf("request cancellation must not cancel the task: %+v", got)
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	var cancelled int32
	task, _ := s.Start(context.Background(), "long", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Error("expected running task to observe cancellation")
	}
	if got, _ := s.Get(task.ID); got.Status != StatusFailed {
		t.Errorf("cancelled task should be failed, got %s", got.Status)
	}

	if _, err := s.Start(context.Background(), "late", func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
}

func TestSupervisor_Retention(t *testing.T) {
	s := NewSupervisor(WithRetention(2))
	defer func() { _ = s.Shutdown(context.Background()) }()

	var ids []string
	for i := 0; i < 4; i++ {
		task, err := s.Start(context.Background(), "job", func(ctx context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		waitTask(t, s, task.ID)
		ids = append(ids, task.ID)
		time.Sleep(time.Millisecond)
	}

	if len(s.List()) != 2 {
		t.Errorf("expected 2 retained tasks, got %d", len(s.List()))
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Error("oldest task should be pruned")
	}
	if _, ok := s.Get(ids[3]); !ok {
		t.Error("newest task should be retained")
	}
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	release, err := l.Acquire(context.Background(), "refresh", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(context.Background(), "refresh", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	successor, err := l.Acquire(context.Background(), "refresh", time.Minute)
	if err != nil {
		t.Fatalf("expired lease should be taken over: %v", err)
	}

	// The stale holder's release must not free the successor's lease
	release()
	if _, err := l.Acquire(context.Background(), "refresh", time.Minute); !errors.Is(err, ErrLocked) {
		t.Error("stale release dropped the successor's lease")
	}
	successor()
	if _, err := l.Acquire(context.Background(), "refresh", time.Minute); err != nil {
		t.Errorf("expected lock free after release: %v", err)
	}
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	a := NewRedisLocker(client, "")
	b := NewRedisLocker(client, "")
	ctx := context.Background()

	release, err := a.Acquire(ctx, "refresh", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("newsledger:lock:refresh") {
		t.Error("expected lock key in redis")
	}
	if _, err := b.Acquire(ctx, "refresh", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("second process should be locked out, got %v", err)
	}

	// Expired lock taken by b; a's late release must leave b's key intact
	mr.FastForward(2 * time.Minute)
	releaseB, err := b.Acquire(ctx, "refresh", time.Minute)
	if err != nil {
		t.Fatalf("expected acquire after expiry: %v", err)
	}
	release()
	if !mr.Exists("newsledger:lock:refresh") {
		t.Error("stale release deleted another holder's lock")
	}
	releaseB()
	if mr.Exists("newsledger:lock:refresh") {
		t.Error("expected lock key removed on release")
	}
}

func TestSupervisor_WithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	// Two supervisors stand in for two API processes
	s1 := NewSupervisor(WithLocker(NewRedisLocker(client, "")))
	s2 := NewSupervisor(WithLocker(NewRedisLocker(client, "")))
	defer func() { _ = s1.Shutdown(context.Background()) }()
	defer func() { _ = s2.Shutdown(context.Background()) }()

	release := make(chan struct{})
	task, err := s1.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Start(context.Background(), "refresh", func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected cross-process exclusion, got %v", err)
	}
	close(release)
	waitTask(t, s1, task.ID)
}
