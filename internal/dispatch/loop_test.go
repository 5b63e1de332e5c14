package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	deadline := time.Now().Add(time.Second)
	for !l.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestSubmitBeforeRun(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	err := l.Submit(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit before Run = %v, want ErrNotRunning", err)
	}
}

func TestSubmitWaitsForCompletion(t *testing.T) {
	l, _ := startLoop(t)

	var ran bool
	err := l.Submit(context.Background(), func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !ran {
		t.Fatal("Submit returned before the task ran")
	}
}

func TestSubmitPropagatesTaskError(t *testing.T) {
	l, _ := startLoop(t)
	want := errors.New("disk full")
	if err := l.Submit(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("Submit() error = %v, want %v", err, want)
	}
}

func TestSubmitRecoversPanics(t *testing.T) {
	l, _ := startLoop(t)
	if err := l.Submit(context.Background(), func(context.Context) error { panic("boom") }); err == nil {
		t.Fatal("expected error from panicking task")
	}
	if err := l.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("loop should survive a panic, got %v", err)
	}
}

func TestTasksRunSerially(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Submit(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("observed %d concurrent tasks, want 1", maxSeen)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	deadline := time.Now().Add(time.Second)
	for l.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not stop")
		}
		time.Sleep(time.Millisecond)
	}
	err := l.Submit(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after stop = %v, want ErrStopped", err)
	}
}
