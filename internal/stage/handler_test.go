package stage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/store"
)

// fakeTaskStore is an in-memory store.TaskStore for handler tests.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[int64]*domain.Task
	logs  []string

	getErr    error
	updateErr error
	saveErr   error
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	task.StageResults[stage] = result
	return nil
}

func (s *fakeTaskStore) AppendLog(ctx context.Context, id int64, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, message)
	return nil
}

func (s *fakeTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

func (s *fakeTaskStore) task(id int64) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// fakeGenerator returns canned results per stage.
type fakeGenerator struct {
	analyzeErr error
	planErr    error
}

func (g *fakeGenerator) AnalyzeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	if g.analyzeErr != nil {
		return nil, g.analyzeErr
	}
	return json.RawMessage(`{"analysis":"done"}`), nil
}

func (g *fakeGenerator) GeneratePlan(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	if g.planErr != nil {
		return nil, g.planErr
	}
	return json.RawMessage(`{"plan":"done"}`), nil
}

func (g *fakeGenerator) DecomposeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return json.RawMessage(`{"subtasks":[]}`), nil
}

// recordingReporter captures the report sequence.
type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) Report(taskID int64, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message)
}

func (r *recordingReporter) ReportStageComplete(
	taskID int64,
	stage domain.Stage,
	success bool,
	message string,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message)
}

func (r *recordingReporter) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzeHandler_Process(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{ID: 7, Title: "add rate limiting", Status: domain.TaskStatusPending})
	reporter := &recordingReporter{}
	h := NewAnalyzeHandler(tasks, &fakeGenerator{}, reporter, testLogger())

	require.NoError(t, h.Process(context.Background(), 7))

	task := tasks.task(7)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status)

	result, ok := task.StageResult(domain.StageAnalyze)
	require.True(t, ok)
	assert.JSONEq(t, `{"analysis":"done"}`, string(result))

	assert.Equal(t, []string{
		"analyze-task started",
		"analyze-task completed",
	}, reporter.recorded())
}

func TestPlanHandler_PrecursorMissing(t *testing.T) {
	t.Parallel()

	// No analyze result persisted yet: plan must refuse to run.
	tasks := newFakeTaskStore(&domain.Task{ID: 7, Status: domain.TaskStatusPending})
	h := NewPlanHandler(tasks, &fakeGenerator{}, &recordingReporter{}, testLogger())

	err := h.Process(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPrecursorMissing)

	// The handler must not have touched the task before the check.
	assert.Equal(t, domain.TaskStatusPending, tasks.task(7).Status)
}

func TestPlanHandler_Process(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{
		ID:     7,
		Status: domain.TaskStatusInProgress,
		StageResults: map[domain.Stage]json.RawMessage{
			domain.StageAnalyze: json.RawMessage(`{"analysis":"done"}`),
		},
	})
	h := NewPlanHandler(tasks, &fakeGenerator{}, &recordingReporter{}, testLogger())

	require.NoError(t, h.Process(context.Background(), 7))

	result, ok := tasks.task(7).StageResult(domain.StagePlan)
	require.True(t, ok)
	assert.JSONEq(t, `{"plan":"done"}`, string(result))
}

func TestDecomposeHandler_CompletesTask(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{
		ID:     7,
		Status: domain.TaskStatusInProgress,
		StageResults: map[domain.Stage]json.RawMessage{
			domain.StageAnalyze: json.RawMessage(`{"analysis":"done"}`),
			domain.StagePlan:    json.RawMessage(`{"plan":"done"}`),
		},
	})
	h := NewDecomposeHandler(tasks, &fakeGenerator{}, &recordingReporter{}, testLogger())

	require.NoError(t, h.Process(context.Background(), 7))

	// The final stage closes out the task.
	assert.Equal(t, domain.TaskStatusCompleted, tasks.task(7).Status)
}

func TestHandler_TaskNotFound(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore()
	h := NewAnalyzeHandler(tasks, &fakeGenerator{}, &recordingReporter{}, testLogger())

	err := h.Process(context.Background(), 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestHandler_GenerationErrorPropagates(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskStore(&domain.Task{ID: 7, Status: domain.TaskStatusPending})
	genErr := errors.New("llm unavailable")
	h := NewAnalyzeHandler(tasks, &fakeGenerator{analyzeErr: genErr}, &recordingReporter{}, testLogger())

	err := h.Process(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)

	// No result was persisted on the failure path.
	_, ok := tasks.task(7).StageResult(domain.StageAnalyze)
	assert.False(t, ok)
}

func TestNewRegistry_CoversAllStages(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(newFakeTaskStore(), &fakeGenerator{}, &recordingReporter{}, testLogger())

	for _, s := range []domain.Stage{domain.StageAnalyze, domain.StagePlan, domain.StageDecompose} {
		h, ok := registry[s]
		require.True(t, ok, "missing handler for %s", s)
		assert.Equal(t, s, h.Stage())
	}
}
