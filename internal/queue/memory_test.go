package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/pipeline-api/internal/domain"
)

func TestMemoryQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(MemoryOptions{})
	ctx := context.Background()

	var ids []int64
	for _, enq := range []struct {
		taskID   int64
		priority int
	}{
		{1, 6},
		{2, 8},
		{3, 8},
		{4, 7},
	} {
		_, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(enq.taskID), enq.priority)
		require.NoError(t, err)
	}

	for {
		item, err := q.DequeueNext(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrEmpty)
			break
		}
		taskID, ok := item.Payload.TaskID()
		require.True(t, ok)
		ids = append(ids, taskID)
	}

	// Descending priority, FIFO within equal priority.
	assert.Equal(t, []int64{2, 3, 4, 1}, ids)
}

func TestMemoryQueue_CompleteAndFailIdempotent(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(MemoryOptions{MaxAttempts: 3, BackoffBase: time.Minute})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StagePlan, TaskPayload(5), 7)
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, id, "boom"))
	require.NoError(t, q.Fail(ctx, id, "boom"))

	item, ok := q.Item(id)
	require.True(t, ok)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, StateFailed, item.State)
	assert.Equal(t, "boom", item.LastError)

	// Complete on a non-active item is a no-op, not an error.
	require.NoError(t, q.Complete(ctx, id))
	item, _ = q.Item(id)
	assert.Equal(t, StateFailed, item.State)
}

func TestMemoryQueue_RetryBackoff(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(MemoryOptions{MaxAttempts: 3, BackoffBase: time.Second})
	ctx := context.Background()

	now := time.Now()
	q.SetNowFunc(func() time.Time { return now })

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(9), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "transient"))

	// Before the backoff elapses the item stays parked.
	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)

	// Advance past base*2^1.
	now = now.Add(3 * time.Second)

	item, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, 1, item.Attempts)
}

func TestMemoryQueue_ExhaustedAttemptsStayFailed(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(MemoryOptions{MaxAttempts: 1, BackoffBase: time.Millisecond})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(9), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "fatal"))

	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
	assert.Equal(t, int64(0), counts.Delayed)
}

func TestPayload_TaskID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
		want    int64
		ok      bool
	}{
		{"int64", Payload{"task_id": int64(42)}, 42, true},
		{"int", Payload{"task_id": 42}, 42, true},
		{"float64 after json roundtrip", Payload{"task_id": float64(42)}, 42, true},
		{"missing", Payload{}, 0, false},
		{"wrong type", Payload{"task_id": "42"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := tt.payload.TaskID()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
