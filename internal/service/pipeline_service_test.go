package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/store"
)

// fakeTaskStore implements store.TaskStore in memory. WithTx returns
// the store itself; the tests bypass real transactions.
type fakeTaskStore struct {
	tasks map[int64]*domain.Task
	logs  []string
}

func newFakeTaskStore(tasks ...*domain.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[int64]*domain.Task)}
	for _, task := range tasks {
		if task.StageResults == nil {
			task.StageResults = make(map[domain.Stage]json.RawMessage)
		}
		s.tasks[task.ID] = task
	}
	return s
}

func (s *fakeTaskStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.TaskStatus,
	message string,
) error {
	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	task.Status = status
	task.LastError = message
	return nil
}

func (s *fakeTaskStore) SaveStageResult(
	ctx context.Context,
	id int64,
	stage domain.Stage,
	result json.RawMessage,
) error {
	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	task.StageResults[stage] = result
	return nil
}

func (s *fakeTaskStore) AppendLog(ctx context.Context, id int64, level, message string) error {
	s.logs = append(s.logs, message)
	return nil
}

func (s *fakeTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires the service against fakes, short-circuiting the
// transaction runner.
func newTestService(t *testing.T, tasks store.TaskStore, q queue.Queue) PipelineService {
	t.Helper()
	svc, err := NewPipelineService(nil, tasks, q, testLogger())
	require.NoError(t, err)
	svc.(*pipelineServiceImpl).runTx = func(
		ctx context.Context, db *sql.DB, fn store.TxFn,
	) error {
		return fn(ctx, nil)
	}
	return svc
}

func TestProcessTask_EnqueuesFirstStage(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{ID: 7, Status: domain.TaskStatusFailed})
	q := queue.NewMemoryQueue(queue.MemoryOptions{})
	svc := newTestService(t, tasks, q)

	itemID, err := svc.ProcessTask(context.Background(), 7)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, itemID)

	// Reprocessing resets the task and records the audit line.
	assert.Equal(t, domain.TaskStatusPending, tasks.tasks[7].Status)
	require.Len(t, tasks.logs, 1)
	assert.Contains(t, tasks.logs[0], "analyze-task")

	item, err := q.DequeueNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyze, item.Type)
	assert.Equal(t, domain.StageAnalyze.Priority(), item.Priority)
	taskID, ok := item.Payload.TaskID()
	require.True(t, ok)
	assert.Equal(t, int64(7), taskID)
}

func TestProcessTask_TaskNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeTaskStore(), queue.NewMemoryQueue(queue.MemoryOptions{}))

	_, err := svc.ProcessTask(context.Background(), 404)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// failingQueue always reports the backing store as unreachable.
type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, s domain.Stage, p queue.Payload, pr int) (uuid.UUID, error) {
	return uuid.Nil, queue.ErrStoreUnavailable
}
func (failingQueue) DequeueNext(ctx context.Context) (*queue.WorkItem, error) {
	return nil, queue.ErrStoreUnavailable
}
func (failingQueue) Complete(ctx context.Context, id uuid.UUID) error { return nil }
func (failingQueue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}
func (failingQueue) Status(ctx context.Context) (queue.Counts, error) {
	return queue.Counts{}, queue.ErrStoreUnavailable
}

func TestProcessTask_QueueUnavailable(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{ID: 7})
	svc := newTestService(t, tasks, failingQueue{})

	_, err := svc.ProcessTask(context.Background(), 7)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{ID: 7, Title: "add rate limiting"})
	svc := newTestService(t, tasks, queue.NewMemoryQueue(queue.MemoryOptions{}))

	task, err := svc.GetTask(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "add rate limiting", task.Title)

	_, err = svc.GetTask(context.Background(), 404)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestServiceErrorWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("disk on fire")
	err := newServiceError("process_task", "failed to prepare task", base)

	var svcErr *PipelineServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "process_task", svcErr.Operation)
	assert.ErrorIs(t, err, base)
}
