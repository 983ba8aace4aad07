package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/queue"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type funcRunner func(ctx context.Context, id string) error

func (f funcRunner) Run(ctx context.Context, id string) error { return f(ctx, id) }

func startDispatcher(t *testing.T, d *Dispatcher, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
		return nil
	}
}

func TestDispatcherRunsOneJobAtATime(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"doc-1", "doc-2", "doc-3", "doc-4"} {
		require.True(t, q.Submit(id))
	}

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		mu          sync.Mutex
		seen        []string
		wg          sync.WaitGroup
	)
	wg.Add(4)
	runner := funcRunner(func(ctx context.Context, id string) error {
		defer wg.Done()
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	done := startDispatcher(t, New(q, runner, 0, 0, m), context.Background())

	wg.Wait()
	q.Shutdown()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-3", "doc-4"}, seen)

	count, err := testutil.GatherAndCount(reg, "docbatch_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcherResubmitDuringJobRunsAfterIt(t *testing.T) {
	q := queue.New()
	require.True(t, q.Submit("doc-x"))

	var (
		calls       atomic.Int32
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		resubmitted atomic.Bool
		mu          sync.Mutex
		events      []string
		wg          sync.WaitGroup
	)
	started := make(chan struct{})
	release := make(chan struct{})
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	wg.Add(2)
	runner := funcRunner(func(ctx context.Context, id string) error {
		defer wg.Done()
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		call := calls.Add(1)
		record(fmt.Sprintf("start-%d", call))
		if call == 1 {
			resubmitted.Store(q.Submit(id))
			close(started)
			<-release
		}
		record(fmt.Sprintf("end-%d", call))
		return nil
	})

	done := startDispatcher(t, New(q, runner, 0, 0, nil), context.Background())

	<-started
	assert.True(t, resubmitted.Load(), "an in-flight id is accepted back into the queue")
	assert.True(t, q.Contains("doc-x"))
	assert.False(t, q.Submit("doc-x"), "a second resubmission coalesces")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	before := append([]string(nil), events...)
	mu.Unlock()
	assert.Equal(t, []string{"start-1"}, before, "the resubmitted job waits for the running one")

	close(release)
	wg.Wait()
	q.Shutdown()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []string{"start-1", "end-1", "start-2", "end-2"}, events)
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatcherShutdownDuringGraceRunsNothing(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		require.True(t, q.Submit(id))
	}

	var calls atomic.Int32
	runner := funcRunner(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	done := startDispatcher(t, New(q, runner, 100*time.Millisecond, 0, nil), context.Background())
	q.Shutdown()

	require.NoError(t, waitDone(t, done))
	assert.Zero(t, calls.Load())
	assert.Zero(t, q.Len())
}

func TestDispatcherSurvivesPanicsAndErrors(t *testing.T) {
	q := queue.New()
	q.Submit("panics")
	q.Submit("fails")
	q.Submit("rejected")
	q.Submit("ok")

	var ran sync.WaitGroup
	ran.Add(4)
	var committed atomic.Bool
	runner := funcRunner(func(ctx context.Context, id string) error {
		defer ran.Done()
		switch id {
		case "panics":
			panic("boom")
		case "fails":
			return errors.New("stage in: disk full")
		case "rejected":
			return ErrNoStyle
		}
		committed.Store(true)
		return nil
	})

	done := startDispatcher(t, New(q, runner, 0, 0, nil), context.Background())
	ran.Wait()
	q.Shutdown()
	require.NoError(t, waitDone(t, done))
	assert.True(t, committed.Load())
}

func TestDispatcherShutdownWhileIdle(t *testing.T) {
	q := queue.New()
	done := startDispatcher(t, New(q, funcRunner(func(context.Context, string) error { return nil }), 0, 0, nil), context.Background())

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	assert.NoError(t, waitDone(t, done))
}

func TestDispatcherContextCancel(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := startDispatcher(t, New(q, funcRunner(func(context.Context, string) error { return nil }), time.Hour, 0, nil), ctx)

	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestDispatcherShutdownDoesNotInterruptJob(t *testing.T) {
	q := queue.New()
	q.Submit("doc-1")
	q.Submit("doc-2")

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		jobCtxErr error
		ranIDs    []string
	)
	runner := funcRunner(func(ctx context.Context, id string) error {
		ranIDs = append(ranIDs, id)
		close(started)
		<-release
		jobCtxErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := startDispatcher(t, New(q, runner, 0, 0, nil), ctx)

	<-started
	q.Shutdown()
	cancel()
	close(release)

	err := waitDone(t, done)
	assert.True(t, err == nil || errors.Is(err, context.Canceled))
	assert.NoError(t, jobCtxErr, "job context must not observe shutdown")
	assert.Equal(t, []string{"doc-1"}, ranIDs, "queued work is discarded on shutdown")
}

func TestDispatcherHonoursStartupGraceAndCooldown(t *testing.T) {
	q := queue.New()
	q.Submit("doc-1")
	q.Submit("doc-2")

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	wg.Add(2)
	runner := funcRunner(func(context.Context, string) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		wg.Done()
		return nil
	})

	begin := time.Now()
	done := startDispatcher(t, New(q, runner, 50*time.Millisecond, 40*time.Millisecond, nil), context.Background())
	wg.Wait()
	q.Shutdown()
	require.NoError(t, waitDone(t, done))

	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[0].Sub(begin), 50*time.Millisecond)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 40*time.Millisecond)
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
