package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// Redis key layout, all under a configurable prefix:
//
//	{p}:seq        counter used to break priority ties in FIFO order
//	{p}:waiting    ZSET of item ids, score encodes (priority, sequence)
//	{p}:active     SET of claimed item ids
//	{p}:delayed    ZSET of failed ids awaiting redelivery, score = ready-at ms
//	{p}:completed  ZSET of finished ids, score = finished-at ms
//	{p}:dead       ZSET of permanently failed ids, score = failed-at ms
//	{p}:item:{id}  HASH holding the item fields
//
// The waiting score is -priority*2^30 + seq: lower scores pop first, so
// higher priorities win and equal priorities keep insertion order.

// claimScript atomically pops the best waiting item and marks it active.
var claimScript = redis.NewScript(`
	local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	redis.call('ZREM', KEYS[1], id)
	redis.call('SADD', KEYS[2], id)
	redis.call('HSET', ARGV[1] .. ':item:' .. id, 'state', 'active')
	return id
`)

// completeScript transitions active -> completed. Returns 0 when the
// item was not active (idempotent no-op).
var completeScript = redis.NewScript(`
	local state = redis.call('HGET', KEYS[3], 'state')
	if state ~= 'active' then
		return 0
	end
	redis.call('HSET', KEYS[3], 'state', 'completed')
	redis.call('SREM', KEYS[1], ARGV[1])
	redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
	return 1
`)

// failScript transitions active -> failed, bumps the attempt count and
// parks the item either in the delayed set (retry pending) or the dead
// set. Returns -1 when the item was not active (idempotent no-op).
var failScript = redis.NewScript(`
	local state = redis.call('HGET', KEYS[4], 'state')
	if state ~= 'active' then
		return -1
	end
	local attempts = redis.call('HINCRBY', KEYS[4], 'attempts', 1)
	redis.call('HSET', KEYS[4], 'state', 'failed', 'last_error', ARGV[2])
	redis.call('SREM', KEYS[1], ARGV[1])
	local max = tonumber(ARGV[3])
	local now = tonumber(ARGV[5])
	if attempts < max then
		local delay = tonumber(ARGV[4]) * 2 ^ attempts
		redis.call('ZADD', KEYS[2], now + delay, ARGV[1])
	else
		redis.call('ZADD', KEYS[3], now, ARGV[1])
	end
	return attempts
`)

// promoteScript moves due delayed items back into the waiting set with
// a fresh sequence number and their original priority.
var promoteScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	for _, id in ipairs(due) do
		local itemkey = ARGV[2] .. ':item:' .. id
		local priority = tonumber(redis.call('HGET', itemkey, 'priority')) or 0
		local seq = redis.call('INCR', KEYS[3])
		redis.call('HSET', itemkey, 'state', 'waiting')
		redis.call('ZADD', KEYS[2], -priority * 1073741824 + seq, id)
	end
	if #due > 0 then
		redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	end
	return #due
`)

// purgeScript removes finished items older than the cutoff, including
// their item hashes.
var purgeScript = redis.NewScript(`
	local removed = 0
	for i = 1, #KEYS do
		local old = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1])
		for _, id in ipairs(old) do
			redis.call('DEL', ARGV[2] .. ':item:' .. id)
			removed = removed + 1
		end
		redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', ARGV[1])
	end
	return removed
`)

// RedisOptions configures the Redis-backed queue.
type RedisOptions struct {
	// Prefix namespaces every key. Defaults to "pipeline".
	Prefix string

	// MaxAttempts bounds redeliveries before an item is parked in the
	// dead set. Defaults to 3.
	MaxAttempts int

	// BackoffBase is the base retry delay; the effective delay is
	// base * 2^attempts. Defaults to 5s.
	BackoffBase time.Duration

	// PromoteInterval is how often due delayed items are moved back to
	// the waiting set. Defaults to 500ms.
	PromoteInterval time.Duration
}

// RedisQueue is a durable Queue implementation backed by Redis. All
// state transitions run as Lua scripts so they stay atomic under
// concurrent callers.
type RedisQueue struct {
	rdb    *redis.Client
	opts   RedisOptions
	logger *slog.Logger
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a Redis-backed queue on the given client.
func NewRedisQueue(rdb *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "pipeline"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.PromoteInterval <= 0 {
		opts.PromoteInterval = 500 * time.Millisecond
	}
	return &RedisQueue{
		rdb:    rdb,
		opts:   opts,
		logger: logger.With("component", "redis_queue"),
	}
}

func (q *RedisQueue) key(parts ...string) string {
	key := q.opts.Prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (q *RedisQueue) itemKey(id string) string {
	return q.key("item", id)
}

// waitingScore encodes priority and arrival order into a single ZSET
// score. Lower scores dequeue first.
func waitingScore(priority int, seq int64) float64 {
	return float64(-priority)*float64(1<<30) + float64(seq)
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(
	ctx context.Context,
	stage domain.Stage,
	payload Payload,
	priority int,
) (uuid.UUID, error) {
	if !stage.IsValid() {
		return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrInvalidStage, stage)
	}

	id := uuid.New()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.itemKey(id.String()),
		"id", id.String(),
		"type", string(stage),
		"payload", string(payloadJSON),
		"priority", priority,
		"state", string(StateWaiting),
		"attempts", 0,
		"last_error", "",
		"created_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, q.key("waiting"), redis.Z{
		Score:  waitingScore(priority, seq),
		Member: id.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	q.logger.Debug("work item enqueued",
		"item_id", id,
		"stage", stage,
		"priority", priority)
	return id, nil
}

// DequeueNext implements Queue. The claim (pop from waiting, mark
// active) is a single Lua script, so concurrent consumers can never
// receive the same item.
func (q *RedisQueue) DequeueNext(ctx context.Context) (*WorkItem, error) {
	result, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("waiting"), q.key("active")},
		q.opts.Prefix,
	).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	id, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claim reply %T", ErrStoreUnavailable, result)
	}
	return q.getItem(ctx, id)
}

// Complete implements Queue.
func (q *RedisQueue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := completeScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("completed"), q.itemKey(id.String())},
		id.String(),
		time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	attempts, err := failScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("delayed"), q.key("dead"), q.itemKey(id.String())},
		id.String(),
		reason,
		q.opts.MaxAttempts,
		q.opts.BackoffBase.Milliseconds(),
		time.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if attempts >= 0 {
		q.logger.Info("work item failed",
			"item_id", id,
			"attempts", attempts,
			"reason", reason,
			"will_retry", attempts < int64(q.opts.MaxAttempts))
	}
	return nil
}

// Status implements Queue.
func (q *RedisQueue) Status(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("waiting"))
	active := pipe.SCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	dead := pipe.ZCard(ctx, q.key("dead"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    dead.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Promote moves delayed items whose backoff has elapsed back into the
// waiting set. Returns the number of promoted items.
func (q *RedisQueue) Promote(ctx context.Context) (int64, error) {
	promoted, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("waiting"), q.key("seq")},
		time.Now().UnixMilli(),
		q.opts.Prefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return promoted, nil
}

// RunRedelivery periodically promotes due delayed items until the
// context is cancelled. Intended to run in its own goroutine next to
// the dispatcher.
func (q *RedisQueue) RunRedelivery(ctx context.Context) {
	ticker := time.NewTicker(q.opts.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Promote(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("redelivery promotion failed", "error", err)
			}
		}
	}
}

// Purge removes completed and dead items older than the retention
// window, including their item hashes. Returns the number removed.
func (q *RedisQueue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	removed, err := purgeScript.Run(ctx, q.rdb,
		[]string{q.key("completed"), q.key("dead")},
		cutoff,
		q.opts.Prefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if removed > 0 {
		q.logger.Info("purged finished work items", "count", removed)
	}
	return removed, nil
}

// getItem loads a work item hash and decodes it.
func (q *RedisQueue) getItem(ctx context.Context, id string) (*WorkItem, error) {
	fields, err := q.rdb.HGetAll(ctx, q.itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return itemFromHash(fields)
}

func itemFromHash(fields map[string]string) (*WorkItem, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("invalid work item id %q: %w", fields["id"], err)
	}

	var payload Payload
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("invalid work item payload: %w", err)
		}
	}

	priority, _ := strconv.Atoi(fields["priority"])
	attempts, _ := strconv.Atoi(fields["attempts"])

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid work item created_at: %w", err)
	}

	return &WorkItem{
		ID:        id,
		Type:      domain.Stage(fields["type"]),
		Payload:   payload,
		Priority:  priority,
		State:     State(fields["state"]),
		Attempts:  attempts,
		CreatedAt: createdAt,
		LastError: fields["last_error"],
	}, nil
}
