// File: internal/ingest/scheduler_test.go
package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsSubmittedTasks(t *testing.T) {
	s := NewScheduler(16, 2, nil)
	require.NoError(t, s.Start(context.Background()))

	var ran int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		ok := s.Submit(func(ctx context.Context) error {
			if atomic.AddInt32(&ran, 1) == 5 {
				close(done)
			}
			return nil
		})
		assert.True(t, ok)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run in time")
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestSchedulerRejectsWhenStopped(t *testing.T) {
	s := NewScheduler(4, 1, nil)

	ok := s.Submit(func(ctx context.Context) error { return nil })
	assert.False(t, ok, "submit before Start must be rejected")

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	ok = s.Submit(func(ctx context.Context) error { return nil })
	assert.False(t, ok, "submit after Stop must be rejected")
}

func TestSchedulerDropsWhenQueueFull(t *testing.T) {
	s := NewScheduler(1, 1, nil)
	require.NoError(t, s.Start(context.Background()))

	block := make(chan struct{})
	started := make(chan struct{})

	// Occupy the single worker
	require.True(t, s.Submit(func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	// Fill the queue
	require.True(t, s.Submit(func(ctx context.Context) error { return nil }))

	// Queue is full now, this one must be dropped without blocking
	assert.False(t, s.Submit(func(ctx context.Context) error { return nil }))

	close(block)
	require.NoError(t, s.Stop())
}

func TestSchedulerStopDrainsQueue(t *testing.T) {
	s := NewScheduler(16, 1, nil)
	require.NoError(t, s.Start(context.Background()))

	var ran int32
	for i := 0; i < 8; i++ {
		require.True(t, s.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}))
	}

	require.NoError(t, s.Stop())
	assert.Equal(t, int32(8), atomic.LoadInt32(&ran), "Stop must wait for queued tasks")
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	s := NewScheduler(4, 1, nil)
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.Submit(func(ctx context.Context) error {
		panic("boom")
	}))

	done := make(chan struct{})
	require.True(t, s.Submit(func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panicking task")
	}

	require.NoError(t, s.Stop())
}
