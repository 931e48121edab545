package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// fakeDispatcher stands in for the scheduler: it records dispatches
// and lets the test play the executor.
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []*models.Task
	ch         chan *models.Task
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{ch: make(chan *models.Task, 16)}
}

func (d *fakeDispatcher) Dispatch(task *models.Task) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, task)
	d.mu.Unlock()
	d.ch <- task
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func (d *fakeDispatcher) next(t *testing.T) *models.Task {
	t.Helper()
	select {
	case task := <-d.ch:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("no task dispatched in time")
		return nil
	}
}

func setupOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *fakeDispatcher) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "tasks.db"), filepath.Join(dir, "tasks"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orch := New(st, logger.Default())
	dispatcher := newFakeDispatcher()
	orch.SetDispatcher(dispatcher)
	return orch, st, dispatcher
}

// complete plays the executor for one dispatched task.
func complete(t *testing.T, st *store.Store, o *Orchestrator, task *models.Task, status v1.TaskStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Transition(ctx, task.ID, v1.TaskStatusPending, v1.TaskStatusRunning, nil))

	outcome := store.Outcome{Status: status}
	if status == v1.TaskStatusCompleted {
		outcome.FinalSummary = "done"
	} else {
		outcome.ErrorMessage = "boom"
	}
	require.NoError(t, st.Finalize(ctx, task.ID, v1.TaskStatusRunning, outcome))

	switch status {
	case v1.TaskStatusCompleted:
		o.NotifyTerminal(task.ID, OutcomeCompleted)
	case v1.TaskStatusFailed:
		o.NotifyTerminal(task.ID, OutcomeFailed)
	case v1.TaskStatusCancelled:
		o.NotifyTerminal(task.ID, OutcomeCancelled)
	}
}

func diamondSpecs() []models.TaskInput {
	return []models.TaskInput{
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "A"},
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "B", DependsOn: []string{"A"}},
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "C", DependsOn: []string{"A"}},
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "D", DependsOn: []string{"B", "C"}},
	}
}

func TestDiamondRunsInDependencyOrder(t *testing.T) {
	o, st, dispatcher := setupOrchestrator(t)
	ctx := context.Background()

	orch, tasks, err := st.CreateOrchestration(ctx, diamondSpecs())
	require.NoError(t, err)
	require.NoError(t, o.Launch(ctx, orch, tasks))

	// Only the root is dispatched up front.
	a := dispatcher.next(t)
	assert.Equal(t, "A", a.TaskIdentifier)
	assert.Equal(t, 1, dispatcher.count())

	complete(t, st, o, a, v1.TaskStatusCompleted)

	// B and C run concurrently once A completes.
	first := dispatcher.next(t)
	second := dispatcher.next(t)
	got := map[string]bool{first.TaskIdentifier: true, second.TaskIdentifier: true}
	assert.True(t, got["B"] && got["C"], "expected B and C, got %v", got)

	complete(t, st, o, first, v1.TaskStatusCompleted)
	assert.Equal(t, 3, dispatcher.count(), "D must wait for both predecessors")

	complete(t, st, o, second, v1.TaskStatusCompleted)
	d := dispatcher.next(t)
	assert.Equal(t, "D", d.TaskIdentifier)

	complete(t, st, o, d, v1.TaskStatusCompleted)

	require.Eventually(t, func() bool {
		agg, err := st.GetOrchestration(ctx, orch.ID)
		return err == nil && agg.Status == v1.OrchestrationStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	agg, err := st.GetOrchestration(ctx, orch.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, agg.TotalTasks)
	assert.Equal(t, 4, agg.CompletedTasks)
	assert.Equal(t, 0, agg.FailedTasks)
	assert.Equal(t, 0, agg.SkippedTasks)
}

func TestSkipPropagation(t *testing.T) {
	o, st, dispatcher := setupOrchestrator(t)
	ctx := context.Background()

	orch, tasks, err := st.CreateOrchestration(ctx, diamondSpecs())
	require.NoError(t, err)
	require.NoError(t, o.Launch(ctx, orch, tasks))

	a := dispatcher.next(t)
	complete(t, st, o, a, v1.TaskStatusFailed)

	// The failure cascades: B, C and D all end skipped without any
	// further dispatch.
	require.Eventually(t, func() bool {
		agg, err := st.GetOrchestration(ctx, orch.ID)
		return err == nil && agg.Status == v1.OrchestrationStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	agg, err := st.GetOrchestration(ctx, orch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.FailedTasks)
	assert.Equal(t, 3, agg.SkippedTasks)
	assert.Equal(t, 0, agg.CompletedTasks)
	assert.Equal(t, 1, dispatcher.count(), "no executor is launched for skipped tasks")

	members, err := st.ListOrchestrationTasks(ctx, orch.ID)
	require.NoError(t, err)
	for _, m := range members[1:] {
		assert.Equal(t, v1.TaskStatusSkipped, m.Status, "member %s", m.TaskIdentifier)
		require.NotNil(t, m.ErrorMessage)
		assert.Contains(t, *m.ErrorMessage, "dependency")
	}
}

func TestWaitAfterDependenciesDelaysDispatch(t *testing.T) {
	o, st, dispatcher := setupOrchestrator(t)
	ctx := context.Background()

	specs := []models.TaskInput{
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "A"},
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "B", DependsOn: []string{"A"}, WaitAfterDeps: 0.2},
	}
	orch, tasks, err := st.CreateOrchestration(ctx, specs)
	require.NoError(t, err)
	require.NoError(t, o.Launch(ctx, orch, tasks))

	a := dispatcher.next(t)
	start := time.Now()
	complete(t, st, o, a, v1.TaskStatusCompleted)

	b := dispatcher.next(t)
	assert.Equal(t, "B", b.TaskIdentifier)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond,
		"B must settle for wait_after_dependencies")
}

func TestNotifyTerminalUnknownTaskIsNoOp(t *testing.T) {
	o, _, _ := setupOrchestrator(t)
	// Direct submissions have no registered event.
	o.NotifyTerminal(999, OutcomeCompleted)
}

func TestRecoverFiresEventsForTerminalMembers(t *testing.T) {
	o, st, dispatcher := setupOrchestrator(t)
	ctx := context.Background()

	specs := []models.TaskInput{
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "A"},
		{ExecutionPrompt: "p", WorkingDir: "/tmp", TaskIdentifier: "B", DependsOn: []string{"A"}},
	}
	orch, tasks, err := st.CreateOrchestration(ctx, specs)
	require.NoError(t, err)

	// Simulate the previous process: A completed, B still waiting.
	require.NoError(t, st.Transition(ctx, tasks[0].ID, v1.TaskStatusPending, v1.TaskStatusRunning, nil))
	require.NoError(t, st.Finalize(ctx, tasks[0].ID, v1.TaskStatusRunning, store.Outcome{
		Status: v1.TaskStatusCompleted, FinalSummary: "done",
	}))

	members, err := st.ListOrchestrationTasks(ctx, orch.ID)
	require.NoError(t, err)
	require.NoError(t, o.Recover(ctx, orch.ID, members))

	// B is released by the recovered event without A re-running.
	b := dispatcher.next(t)
	assert.Equal(t, "B", b.TaskIdentifier)
	assert.Equal(t, 1, dispatcher.count())
}
