package progress

import (
	"sync"

	"github.com/google/uuid"
)

// Aggregator tracks a fixed batch of items and fires once when every item has
// completed. Items that end in error never count, so a batch with a failed
// item does not fire.
type Aggregator struct {
	mu         sync.Mutex
	statuses   map[uuid.UUID]Status
	onComplete func()
	once       sync.Once
	done       chan struct{}
}

// NewAggregator creates an Aggregator for ids. onComplete may be nil.
func NewAggregator(ids []uuid.UUID, onComplete func()) *Aggregator {
	statuses := make(map[uuid.UUID]Status, len(ids))
	for _, id := range ids {
		statuses[id] = StatusPending
	}
	return &Aggregator{
		statuses:   statuses,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
}

// Report records the latest state of itemID. Unknown items are ignored.
// It is safe for concurrent use.
func (a *Aggregator) Report(itemID uuid.UUID, s State) {
	a.mu.Lock()
	if _, ok := a.statuses[itemID]; !ok {
		a.mu.Unlock()
		return
	}
	a.statuses[itemID] = s.Status
	complete := len(a.statuses) > 0 && a.completedLocked() == len(a.statuses)
	a.mu.Unlock()

	if complete {
		a.once.Do(func() {
			close(a.done)
			if a.onComplete != nil {
				a.onComplete()
			}
		})
	}
}

// Done is closed when every item has completed.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Completed returns how many items have completed.
func (a *Aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completedLocked()
}

// Snapshot returns the latest status of every item.
func (a *Aggregator) Snapshot() map[uuid.UUID]Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uuid.UUID]Status, len(a.statuses))
	for id, s := range a.statuses {
		out[id] = s
	}
	return out
}

func (a *Aggregator) completedLocked() int {
	n := 0
	for _, s := range a.statuses {
		if s == StatusCompleted {
			n++
		}
	}
	return n
}
