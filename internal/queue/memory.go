package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const memoryPollInterval = 50 * time.Millisecond

type memoryEntry struct {
	id       string
	body     []byte
	receives int
	receipt  string
	deadline time.Time
}

// MemoryQueue is an in-process queue with a visibility timeout. It backs
// dev mode and tests; its contents do not survive a restart.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []*memoryEntry
	inFlight   map[string]*memoryEntry
	changed    chan struct{}
	visibility time.Duration
	seq        uint64
	closed     bool
	now        func() time.Time
}

// NewMemoryQueue builds a MemoryQueue. A non-positive visibility defaults to 30s.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		inFlight:   make(map[string]*memoryEntry),
		changed:    make(chan struct{}),
		visibility: visibility,
		now:        time.Now,
	}
}

// Enqueue appends a job to the ready list.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeForSend(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.seq++
	q.ready = append(q.ready, &memoryEntry{id: strconv.FormatUint(q.seq, 10), body: payload})
	q.broadcastLocked()
	return nil
}

// Dequeue blocks until a job is visible, the context ends, or the queue closes.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.reclaimExpiredLocked()
		if len(q.ready) > 0 {
			entry := q.ready[0]
			q.ready = q.ready[1:]
			q.seq++
			entry.receives++
			entry.receipt = entry.id + "." + strconv.FormatUint(q.seq, 10)
			entry.deadline = q.now().Add(q.visibility)
			q.inFlight[entry.receipt] = entry
			q.mu.Unlock()

			return &Delivery{
				ID:      entry.id,
				Body:    append([]byte(nil), entry.body...),
				Attempt: entry.receives,
				token:   entry.receipt,
			}, nil
		}
		changed := q.changed
		q.mu.Unlock()

		timer := time.NewTimer(memoryPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack removes an in-flight job for good.
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	receipt, _ := d.token.(string)
	if _, ok := q.inFlight[receipt]; !ok {
		return ErrDeliveryExpired
	}
	delete(q.inFlight, receipt)
	return nil
}

// Nack makes an in-flight job visible again immediately.
func (q *MemoryQueue) Nack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	receipt, _ := d.token.(string)
	entry, ok := q.inFlight[receipt]
	if !ok {
		return ErrDeliveryExpired
	}
	delete(q.inFlight, receipt)
	q.ready = append(q.ready, entry)
	q.broadcastLocked()
	return nil
}

// Close wakes all blocked consumers; later Dequeue calls return ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
	return nil
}

// Depth reports ready and in-flight counts.
func (q *MemoryQueue) Depth() (ready, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaimExpiredLocked()
	return len(q.ready), len(q.inFlight)
}

func (q *MemoryQueue) reclaimExpiredLocked() {
	now := q.now()
	for receipt, entry := range q.inFlight {
		if now.After(entry.deadline) {
			delete(q.inFlight, receipt)
			q.ready = append(q.ready, entry)
		}
	}
}

func (q *MemoryQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

var _ Queue = (*MemoryQueue)(nil)
