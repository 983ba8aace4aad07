package queue

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// PendingSet tracks documents whose last update made them eligible and which
// are now waiting for their release event. Every operation is atomic.
type PendingSet struct {
	mu  sync.Mutex
	ids mapset.Set[string]
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{ids: mapset.NewThreadUnsafeSet[string]()}
}

// Mark sets the pending mark for id and reports whether it was newly set.
func (p *PendingSet) Mark(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.Add(id)
}

// Clear removes the pending mark for id and reports whether it was set.
func (p *PendingSet) Clear(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ids.Contains(id) {
		return false
	}
	p.ids.Remove(id)
	return true
}

// IsMarked reports whether id carries a pending mark.
func (p *PendingSet) IsMarked(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.Contains(id)
}

// Len returns the number of marked documents.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.Cardinality()
}
