package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegister_Validation(t *testing.T) {
	s := New()

	if err := s.Register(&Task{Handler: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("Register() without ID should fail")
	}
	if err := s.Register(&Task{ID: "no-handler"}); err == nil {
		t.Error("Register() without handler should fail")
	}
}

func TestRegister_SetsDefaults(t *testing.T) {
	s := New()

	task := IntervalTask("t1", "test", time.Hour, func(ctx context.Context) error { return nil })
	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := s.GetTask("t1")
	if !ok {
		t.Fatal("GetTask() did not find registered task")
	}
	if got.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m default", got.Timeout)
	}
	if !got.Enabled {
		t.Error("registered task should be enabled")
	}
	if got.NextRun == nil {
		t.Error("NextRun should be set on registration")
	}
}

func TestIntervalTask_Runs(t *testing.T) {
	s := New()

	var runs atomic.Int64
	task := IntervalTask("tick", "test", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("task ran %d times, want at least 2", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOnceTask_RunsOnce(t *testing.T) {
	s := New()

	var runs atomic.Int64
	task := OnceTask("once", "test", time.Now().Add(10*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	time.Sleep(150 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("once task ran %d times, want 1", got)
	}
}

func TestDisable_StopsTask(t *testing.T) {
	s := New()

	var runs atomic.Int64
	task := IntervalTask("tick", "test", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.Disable("tick"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	before := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if after := runs.Load(); after != before {
		t.Errorf("disabled task kept running: %d -> %d", before, after)
	}
}

func TestRunNow(t *testing.T) {
	s := New()

	var runs atomic.Int64
	task := IntervalTask("slow", "test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := s.RunNow("slow"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow() for unknown task should fail")
	}

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("RunNow() never executed the handler")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTaskError_Recorded(t *testing.T) {
	s := New()

	task := IntervalTask("failing", "test", time.Hour, func(ctx context.Context) error {
		return errors.New("boom")
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.RunNow("failing"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, _ := s.GetTask("failing")
		if got.ErrorCount > 0 {
			if got.LastError != "boom" {
				t.Errorf("LastError = %q, want boom", got.LastError)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("error never recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartTwice(t *testing.T) {
	s := New()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestUnregister_RemovesTask(t *testing.T) {
	s := New()

	task := IntervalTask("t1", "test", time.Hour, func(ctx context.Context) error { return nil })
	if err := s.Register(task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s.Unregister("t1")
	if _, ok := s.GetTask("t1"); ok {
		t.Error("task still present after Unregister()")
	}
	if got := len(s.ListTasks()); got != 0 {
		t.Errorf("ListTasks() = %d tasks, want 0", got)
	}
}
