package notification

import (
	"slices"
	"sync"
)

// Queue is the FIFO of alerts waiting for connectivity. Every mutation is
// reported to the persist hook so the queue survives restarts.
type Queue struct {
	mu      sync.Mutex
	items   []PendingAlert
	persist func([]PendingAlert)
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// SetPersist registers the hook receiving a snapshot after every mutation
func (q *Queue) SetPersist(fn func([]PendingAlert)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persist = fn
}

// Push appends alerts in order
func (q *Queue) Push(alerts ...PendingAlert) {
	if len(alerts) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, alerts...)
	q.save()
}

// Peek returns the oldest alert without removing it
func (q *Queue) Peek() (PendingAlert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingAlert{}, false
	}
	return q.items[0], true
}

// Remove deletes the alert with id, reporting whether it was queued
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.items, func(a PendingAlert) bool { return a.ID == id })
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.save()
	return true
}

// Len returns the number of queued alerts
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued alerts oldest first
func (q *Queue) Snapshot() []PendingAlert {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Restore replaces the contents without calling the persist hook
func (q *Queue) Restore(items []PendingAlert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.Clone(items)
}

func (q *Queue) save() {
	if q.persist != nil {
		q.persist(slices.Clone(q.items))
	}
}

// Unrecorded returns the alerts that have no entry in entries. A pending
// snapshot can outlive the log write for the same alert.
func Unrecorded(alerts []PendingAlert, entries []Entry) []PendingAlert {
	recorded := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.AlertID != "" {
			recorded[e.AlertID] = struct{}{}
		}
	}
	return slices.DeleteFunc(slices.Clone(alerts), func(a PendingAlert) bool {
		_, ok := recorded[a.ID]
		return ok
	})
}
