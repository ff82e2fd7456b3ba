package watch

import (
	"sync"
)

// IntentType classifies the kind of local change queued for upload.
type IntentType int

const (
	IntentCreate IntentType = iota
	IntentModify
	IntentDelete
)

func (t IntentType) String() string {
	switch t {
	case IntentCreate:
		return "CREATE"
	case IntentModify:
		return "MODIFY"
	case IntentDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// UploadIntent is one queued sync action (spec.md §4.9).
type UploadIntent struct {
	Path   string
	Intent IntentType
}

// UploadQueue is a bounded FIFO of UploadIntent, enforcing the invariant
// "one in-flight sync request per path; subsequent intents on the same path
// coalesce into the in-flight one on completion" (spec.md §4.9).
type UploadQueue struct {
	mu        sync.Mutex
	ready     chan struct{}
	pending   map[string]UploadIntent // latest intent per path, not yet dispatched
	order     []string                // FIFO order of pending paths
	inFlight  map[string]bool
	capacity  int
	onDropped func(path string)
}

// NewUploadQueue creates a bounded queue. capacity bounds the number of
// pending paths plus in-flight paths; once full, Enqueue reports ok=false and the
// caller's onDropped (if set) is invoked for visibility.
func NewUploadQueue(capacity int, onDropped func(path string)) *UploadQueue {
	return &UploadQueue{
		ready:     make(chan struct{}, 1),
		pending:   make(map[string]UploadIntent),
		inFlight:  make(map[string]bool),
		capacity:  capacity,
		onDropped: onDropped,
	}
}

// Enqueue adds or coalesces an intent for path. If path already has a
// pending (not yet dispatched) intent, the new intent replaces it in place
// — CREATE followed by MODIFY collapses to MODIFY, anything followed by
// DELETE collapses to DELETE. Returns false if the queue is at capacity and
// path is new.
func (q *UploadQueue) Enqueue(path string, intent IntentType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[path]; exists {
		q.pending[path] = UploadIntent{Path: path, Intent: coalesce(q.pending[path].Intent, intent)}
		q.signal()

		return true
	}

	if len(q.pending)+len(q.inFlight) >= q.capacity {
		if q.onDropped != nil {
			q.onDropped(path)
		}

		return false
	}

	q.pending[path] = UploadIntent{Path: path, Intent: intent}
	q.order = append(q.order, path)
	q.signal()

	return true
}

// coalesce merges a newly observed intent with whatever is already pending
// for the same path. DELETE always wins; otherwise the newest intent wins.
func coalesce(prev, next IntentType) IntentType {
	if next == IntentDelete || prev == IntentDelete {
		return IntentDelete
	}

	return next
}

func (q *UploadQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue blocks (respecting stop) until an intent not already in flight for
// its path is available, marks that path in-flight, and returns it.
func (q *UploadQueue) Dequeue(stop <-chan struct{}) (UploadIntent, bool) {
	for {
		if intent, ok := q.tryDequeueLocked(); ok {
			return intent, true
		}

		select {
		case <-q.ready:
		case <-stop:
			return UploadIntent{}, false
		}
	}
}

func (q *UploadQueue) tryDequeueLocked() (UploadIntent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, path := range q.order {
		if q.inFlight[path] {
			continue
		}

		intent, ok := q.pending[path]
		if !ok {
			continue
		}

		q.order = append(q.order[:i:i], q.order[i+1:]...)
		delete(q.pending, path)
		q.inFlight[path] = true

		if len(q.order) > 0 {
			q.signal()
		}

		return intent, true
	}

	return UploadIntent{}, false
}

// Complete marks path no longer in flight. Any intent enqueued for path
// while it was in flight becomes eligible for the next Dequeue.
func (q *UploadQueue) Complete(path string) {
	q.mu.Lock()
	delete(q.inFlight, path)
	_, hasPending := q.pending[path]
	q.mu.Unlock()

	if hasPending {
		q.signal()
	}
}

// Len returns the number of pending (not yet dispatched) intents.
func (q *UploadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
