package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// Common errors returned by queue implementations.
var (
	// ErrEmpty is returned by DequeueNext when no work item is waiting.
	ErrEmpty = errors.New("no waiting work items")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. The caller is expected to retry on its next poll.
	ErrStoreUnavailable = errors.New("queue backing store unavailable")

	// ErrNotFound is returned when the referenced work item does not
	// exist in the backing store.
	ErrNotFound = errors.New("work item not found")
)

// State represents the lifecycle state of a work item.
type State string

// Possible work item states. An item never leaves StateActive except
// into StateCompleted or StateFailed.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Payload is the opaque key-value payload of a work item. By contract
// it carries the domain task identifier under "task_id"; everything
// else is up to the enqueuing caller.
type Payload map[string]any

// TaskPayload builds the minimal payload referencing a domain task.
func TaskPayload(taskID int64) Payload {
	return Payload{"task_id": taskID}
}

// TaskID extracts the domain task identifier from the payload.
// JSON round-trips turn numbers into float64, so both encodings are
// accepted.
func (p Payload) TaskID() (int64, bool) {
	v, ok := p["task_id"]
	if !ok {
		return 0, false
	}
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// WorkItem is a unit of queued work driving one pipeline stage for one
// domain task. Items are created by Enqueue and mutated only through
// the queue operations (waiting -> active -> completed/failed).
type WorkItem struct {
	ID        uuid.UUID    `json:"id"`
	Type      domain.Stage `json:"type"`
	Payload   Payload      `json:"payload"`
	Priority  int          `json:"priority"`
	State     State        `json:"state"`
	Attempts  int          `json:"attempts"`
	CreatedAt time.Time    `json:"created_at"`
	LastError string       `json:"last_error,omitempty"`
}

// Counts reports how many work items are in each state.
// Delayed items are failed items waiting out their retry backoff.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Queue is the work-item queue consumed by the dispatcher.
//
// Implementations must guarantee exclusive dequeue: DequeueNext marks
// the returned item active atomically with the read, so no two callers
// ever receive the same item. Complete and Fail are idempotent; calling
// either on an item that is no longer active is a no-op.
// Version: 1.0
type Queue interface {
	// Enqueue adds a new work item for the given stage. Higher priority
	// dequeues sooner; equal priorities dequeue in insertion order. The
	// payload must reference a valid domain task (caller's
	// responsibility). Returns ErrStoreUnavailable if the backing store
	// cannot be reached.
	Enqueue(ctx context.Context, stage domain.Stage, payload Payload, priority int) (uuid.UUID, error)

	// DequeueNext atomically claims the highest-priority waiting item
	// and returns it in StateActive. Returns ErrEmpty when nothing is
	// waiting.
	DequeueNext(ctx context.Context) (*WorkItem, error)

	// Complete transitions an active item to StateCompleted.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail transitions an active item to StateFailed, records the
	// reason and increments its attempt count. While attempts stay
	// below the configured limit the backing store schedules the item
	// for redelivery after an exponential backoff.
	Fail(ctx context.Context, id uuid.UUID, reason string) error

	// Status returns per-state item counts.
	Status(ctx context.Context) (Counts, error)
}
