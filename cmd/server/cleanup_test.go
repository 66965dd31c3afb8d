package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDeleter struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	deleted   int64
	err       error
}

func (f *fakeDeleter) DeleteExpiredAuthData(ctx context.Context, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retention = retention
	return f.deleted, f.err
}

func (f *fakeDeleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCleaner_RunOnce(t *testing.T) {
	store := &fakeDeleter{deleted: 3}
	c := NewCleaner(store, CleanupConfig{Interval: time.Hour, Retention: 48 * time.Hour})

	if got := c.runOnce(context.Background()); got != 3 {
		t.Errorf("runOnce = %d, want 3", got)
	}
	if store.retention != 48*time.Hour {
		t.Errorf("retention = %v, want 48h", store.retention)
	}

	store.err = errors.New("connection refused")
	if got := c.runOnce(context.Background()); got != 0 {
		t.Errorf("runOnce on error = %d, want 0", got)
	}
}

func TestCleaner_RunSweepsUntilCancelled(t *testing.T) {
	store := &fakeDeleter{}
	c := NewCleaner(store, CleanupConfig{Interval: 5 * time.Millisecond, Retention: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if store.callCount() < 3 {
		t.Errorf("expected at least 3 sweeps, got %d", store.callCount())
	}
}
