package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSubmitCoalescesDuplicates(t *testing.T) {
	q := New()

	assert.True(t, q.Submit("doc-1"))
	assert.False(t, q.Submit("doc-1"))
	assert.True(t, q.Submit("doc-2"))
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	first, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", first)

	second, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc-2", second)
	assert.Equal(t, 0, q.Len())
}

func TestQueueTakeClearsMembership(t *testing.T) {
	q := New()
	require.True(t, q.Submit("doc-1"))

	id, err := q.Take(context.Background())
	require.NoError(t, err)
	require.Equal(t, "doc-1", id)

	assert.False(t, q.Contains("doc-1"))
	assert.True(t, q.Submit("doc-1"), "taken id must be resubmittable")
	assert.Equal(t, 1, q.Len())
}

func TestQueueTakeBlocksUntilSubmit(t *testing.T) {
	q := New()

	got := make(chan string, 1)
	go func() {
		id, err := q.Take(context.Background())
		if err == nil {
			got <- id
		}
	}()

	select {
	case id := <-got:
		t.Fatalf("Take returned %q before any submit", id)
	case <-time.After(50 * time.Millisecond):
	}

	q.Submit("doc-late")

	select {
	case id := <-got:
		assert.Equal(t, "doc-late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake up after Submit")
	}
}

func TestQueueShutdownWakesBlockedTake(t *testing.T) {
	q := New()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrShutdown))
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Shutdown")
	}
}

func TestQueueShutdownDiscardsPending(t *testing.T) {
	q := New()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Submit(id))
	}

	q.Shutdown()
	q.Shutdown()

	assert.Equal(t, 0, q.Len())
	_, err := q.Take(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, q.Submit("d"), "submit after shutdown must be refused")
}

func TestQueueOfferSeparatesDuplicateFromShutdown(t *testing.T) {
	q := New()

	added, err := q.Offer("doc-1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Offer("doc-1")
	require.NoError(t, err)
	assert.False(t, added)

	q.Shutdown()
	added, err = q.Offer("doc-2")
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, added)
	assert.Equal(t, 0, q.Len())
}

func TestQueueTakeHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentSubmittersNeverDuplicate(t *testing.T) {
	q := New()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.Submit("same")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, q.Len())
}

func TestPendingSetMarkAndClear(t *testing.T) {
	p := NewPendingSet()

	assert.True(t, p.Mark("doc"))
	assert.False(t, p.Mark("doc"))
	assert.True(t, p.IsMarked("doc"))
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Clear("doc"))
	assert.False(t, p.Clear("doc"))
	assert.False(t, p.IsMarked("doc"))
	assert.Equal(t, 0, p.Len())
}

func TestPendingSetClearIsAtomicAcrossGoroutines(t *testing.T) {
	p := NewPendingSet()
	p.Mark("doc")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		cleared int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Clear("doc") {
				mu.Lock()
				cleared++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cleared, "exactly one caller may observe the mark")
}
