package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/overseer/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_RunsTasks(t *testing.T) {
	p := New(Options{Concurrency: 2})

	var ran atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		require.True(t, p.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			done <- struct{}{}
			return nil
		}))
	}
	for i := 0; i < 3; i++ {
		<-done
	}

	require.NoError(t, p.Close(context.Background()))
	require.Equal(t, int32(3), ran.Load())
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	m := metrics.New()
	p := New(Options{Concurrency: 1, QueueSize: 1, Metrics: m})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var queuedRan atomic.Bool
	require.True(t, p.Submit("queued", func(ctx context.Context) error {
		queuedRan.Store(true)
		return nil
	}))
	require.False(t, p.Submit("extra", func(ctx context.Context) error { return nil }))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DroppedTasks.WithLabelValues("extra")))

	close(release)
	require.NoError(t, p.Close(context.Background()))
	require.True(t, queuedRan.Load(), "queued task runs before Close returns")
}

func TestPool_QueuesWhileWorkersBusy(t *testing.T) {
	m := metrics.New()
	p := New(Options{Concurrency: 1, Metrics: m})

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, p.Submit("slow", func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, p.Close(context.Background()))
	require.Equal(t, int32(5), ran.Load())
	require.Equal(t, 0.0, testutil.ToFloat64(m.DroppedTasks.WithLabelValues("slow")))
}

func TestPool_DropsAfterClose(t *testing.T) {
	p := New(Options{Concurrency: 1})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()), "Close is idempotent")

	require.False(t, p.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestPool_IsolatesFailuresAndPanics(t *testing.T) {
	p := New(Options{Concurrency: 2})

	require.True(t, p.Submit("fails", func(ctx context.Context) error { return errors.New("boom") }))
	require.True(t, p.Submit("panics", func(ctx context.Context) error { panic("kaboom") }))

	require.NoError(t, p.Close(context.Background()))
}

func TestPool_CloseDeadlineCancelsTasks(t *testing.T) {
	p := New(Options{Concurrency: 1, TaskTimeout: time.Minute})

	require.True(t, p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
}
