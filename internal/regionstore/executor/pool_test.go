package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(4)
	defer p.Shutdown(context.Background())

	var n int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		ok := p.Submit(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		})
		require.True(t, ok)
	}
	wg.Wait()
	require.EqualValues(t, 10, atomic.LoadInt32(&n))
}

func TestPoolSubmitAfterShutdownFails(t *testing.T) {
	p := New(2)
	require.NoError(t, p.Shutdown(context.Background()))

	require.True(t, p.IsShutdown())
	ok := p.Submit(func() {})
	require.False(t, ok)
}

func TestPoolShutdownWaitsForInFlightTasks(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Bool

	p.Submit(func() {
		close(started)
		<-release
		ran.Store(true)
	})
	<-started

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned before the in-flight task finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	require.True(t, ran.Load())
}

func TestPoolShutdownRespectsContextTimeout(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	defer close(block)

	p.Submit(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Submit must never block, even with every worker busy and the queue
// buffer full: it reports false and returns immediately instead.
func TestPoolSubmitNeverBlocksWhenQueueIsFull(t *testing.T) {
	p := New(1)
	defer p.Shutdown(context.Background())

	block := make(chan struct{})
	defer close(block)

	// One task occupies the pool's sole worker; the remaining size*4
	// buffer slots are filled with tasks that never run until block
	// closes.
	started := make(chan struct{})
	require.True(t, p.Submit(func() {
		close(started)
		<-block
	}))
	<-started
	for i := 0; i < 4; i++ {
		require.True(t, p.Submit(func() { <-block }))
	}

	done := make(chan bool, 1)
	go func() { done <- p.Submit(func() {}) }()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Submit blocked instead of reporting failure on a full queue")
	}
}

func TestPoolSizesAreClamped(t *testing.T) {
	require.GreaterOrEqual(t, RemotePoolSize(), 8)
	require.LessOrEqual(t, RemotePoolSize(), 32)
	require.GreaterOrEqual(t, LocalPoolSize(), 1)
}
