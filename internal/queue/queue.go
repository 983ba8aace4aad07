// Package queue holds the in-memory scheduling state of docbatch: the
// deduplicating FIFO of documents waiting for the worker and the set of
// documents waiting for their release event.
package queue

import (
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrShutdown is returned by Take once the queue has been shut down. Callers
// must stop consuming rather than retry.
var ErrShutdown = errors.New("queue shut down")

// Queue is a set-backed FIFO of document IDs. An ID is present at most once;
// it becomes submittable again as soon as Take hands it out.
//
// Queue supports any number of producers and a single consumer.
type Queue struct {
	mu      sync.Mutex
	items   []string
	members mapset.Set[string]
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		members: mapset.NewThreadUnsafeSet[string](),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Submit appends id unless it is already queued. It reports whether id was
// added; a duplicate or a submission after Shutdown returns false.
func (q *Queue) Submit(id string) bool {
	added, _ := q.Offer(id)
	return added
}

// Offer is Submit that tells the two refusals apart: a duplicate returns
// (false, nil), a submission after Shutdown returns (false, ErrShutdown).
func (q *Queue) Offer(id string) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrShutdown
	}
	if !q.members.Add(id) {
		q.mu.Unlock()
		return false, nil
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true, nil
}

// Take blocks until an ID is available and removes it from the head of the
// queue. It returns ErrShutdown after Shutdown and ctx.Err() when ctx ends.
func (q *Queue) Take(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", ErrShutdown
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.members.Remove(id)
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Shutdown discards every queued ID and wakes a blocked Take. It is safe to
// call more than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.members.Clear()
	close(q.done)
}

// Len returns the number of queued IDs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.members.Contains(id)
}
