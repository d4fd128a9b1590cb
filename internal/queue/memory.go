package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// MemoryQueue is an in-process Queue implementation. It backs tests and
// single-process development setups; it offers the same contract as the
// Redis queue minus durability.
type MemoryQueue struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*WorkItem
	seq         map[uuid.UUID]int64
	readyAt     map[uuid.UUID]time.Time
	nextSeq     int64
	maxAttempts int
	backoffBase time.Duration

	// now is injectable for backoff tests.
	now func() time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// MemoryOptions configures the in-memory queue.
type MemoryOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts MemoryOptions) *MemoryQueue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	return &MemoryQueue{
		items:       make(map[uuid.UUID]*WorkItem),
		seq:         make(map[uuid.UUID]int64),
		readyAt:     make(map[uuid.UUID]time.Time),
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		now:         time.Now,
	}
}

// SetNowFunc overrides the queue's clock. Test helper.
func (q *MemoryQueue) SetNowFunc(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(
	ctx context.Context,
	stage domain.Stage,
	payload Payload,
	priority int,
) (uuid.UUID, error) {
	if !stage.IsValid() {
		return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrInvalidStage, stage)
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := &WorkItem{
		ID:        uuid.New(),
		Type:      stage,
		Payload:   payload,
		Priority:  priority,
		State:     StateWaiting,
		CreatedAt: q.now().UTC(),
	}
	q.nextSeq++
	q.items[item.ID] = item
	q.seq[item.ID] = q.nextSeq
	return item.ID, nil
}

// DequeueNext implements Queue. Items whose retry backoff has elapsed
// become eligible again before selection.
func (q *MemoryQueue) DequeueNext(ctx context.Context) (*WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.promoteLocked(now)

	var best *WorkItem
	for _, item := range q.items {
		if item.State != StateWaiting {
			continue
		}
		if best == nil || q.betterLocked(item, best) {
			best = item
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}

	best.State = StateActive
	copied := *best
	return &copied, nil
}

// betterLocked reports whether a should dequeue before b: higher
// priority first, then earlier arrival.
func (q *MemoryQueue) betterLocked(a, b *WorkItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return q.seq[a.ID] < q.seq[b.ID]
}

// promoteLocked re-queues failed items whose backoff has elapsed.
func (q *MemoryQueue) promoteLocked(now time.Time) {
	for id, ready := range q.readyAt {
		if ready.After(now) {
			continue
		}
		delete(q.readyAt, id)
		if item, ok := q.items[id]; ok && item.State == StateFailed {
			item.State = StateWaiting
			q.nextSeq++
			q.seq[id] = q.nextSeq
		}
	}
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.State != StateActive {
		// Idempotent: completing a finished or unknown item is a no-op.
		return nil
	}
	item.State = StateCompleted
	return nil
}

// Fail implements Queue.
func (q *MemoryQueue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.State != StateActive {
		return nil
	}
	item.State = StateFailed
	item.Attempts++
	item.LastError = reason
	if item.Attempts < q.maxAttempts {
		delay := q.backoffBase * time.Duration(1<<item.Attempts)
		q.readyAt[id] = q.now().Add(delay)
	}
	return nil
}

// Status implements Queue.
func (q *MemoryQueue) Status(ctx context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var counts Counts
	for id, item := range q.items {
		switch item.State {
		case StateWaiting:
			counts.Waiting++
		case StateActive:
			counts.Active++
		case StateCompleted:
			counts.Completed++
		case StateFailed:
			if _, pending := q.readyAt[id]; pending {
				counts.Delayed++
			} else {
				counts.Failed++
			}
		}
	}
	return counts, nil
}

// Item returns a snapshot of the work item with the given id. Test
// helper; the dispatcher only sees items through DequeueNext.
func (q *MemoryQueue) Item(id uuid.UUID) (*WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	copied := *item
	return &copied, true
}
