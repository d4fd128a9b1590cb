package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/pipeline-api/internal/domain"
)

func setupRedisQueue(t *testing.T, opts RedisOptions) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()

	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return s, NewRedisQueue(rdb, opts, logger)
}

func TestRedisQueue_PriorityOrdering(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{})
	ctx := context.Background()

	// Enqueue out of priority order; FIFO within equal priority.
	lowID, err := q.Enqueue(ctx, domain.StageDecompose, TaskPayload(1), 6)
	require.NoError(t, err)
	highID, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(2), 8)
	require.NoError(t, err)
	highID2, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(3), 8)
	require.NoError(t, err)
	midID, err := q.Enqueue(ctx, domain.StagePlan, TaskPayload(4), 7)
	require.NoError(t, err)

	wantOrder := []struct {
		id     string
		taskID int64
	}{
		{highID.String(), 2},
		{highID2.String(), 3},
		{midID.String(), 4},
		{lowID.String(), 1},
	}

	for _, want := range wantOrder {
		item, err := q.DequeueNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.id, item.ID.String())
		assert.Equal(t, StateActive, item.State)

		taskID, ok := item.Payload.TaskID()
		require.True(t, ok)
		assert.Equal(t, want.taskID, taskID)
	}

	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRedisQueue_DequeueIsExclusive(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(7), 8)
	require.NoError(t, err)

	item, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)

	// The claimed item must not be returned again.
	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRedisQueue_CompleteIsIdempotent(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(7), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, id))
	require.NoError(t, q.Complete(ctx, id))

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(0), counts.Active)
}

func TestRedisQueue_FailSchedulesRetryWithBackoff(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
	})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(7), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, id, "llm unavailable"))

	// Failing again without a fresh claim must not double-count attempts.
	require.NoError(t, q.Fail(ctx, id, "llm unavailable"))

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
	assert.Equal(t, int64(0), counts.Failed)

	// Not due yet: nothing promoted immediately after the failure.
	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	// Backoff for attempt 1 is base*2 = 20ms.
	time.Sleep(50 * time.Millisecond)
	promoted, err := q.Promote(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	item, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "llm unavailable", item.LastError)
}

func TestRedisQueue_FailExhaustedGoesDead(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{
		MaxAttempts: 1,
		BackoffBase: 10 * time.Millisecond,
	})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(7), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, id, "permanent"))

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
	assert.Equal(t, int64(0), counts.Delayed)

	promoted, err := q.Promote(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestRedisQueue_Purge(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{MaxAttempts: 1})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(7), 8)
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, id))

	// Retention of zero means everything finished is past the window.
	removed, err := q.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	counts, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Completed)
}

func TestRedisQueue_StoreUnavailable(t *testing.T) {
	s, q := setupRedisQueue(t, RedisOptions{})
	ctx := context.Background()

	s.Close()

	_, err := q.Enqueue(ctx, domain.StageAnalyze, TaskPayload(1), 8)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = q.Status(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisQueue_EnqueueRejectsUnknownStage(t *testing.T) {
	_, q := setupRedisQueue(t, RedisOptions{})

	_, err := q.Enqueue(context.Background(), domain.Stage("review-task"), TaskPayload(1), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidStage)
}
