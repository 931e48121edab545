// Package scheduler is the process-wide supervisor: it admits work,
// bounds the set of in-flight executors, and re-queues interrupted
// tasks after a restart.
//
// Executors run as goroutines inside the scheduling process, not in a
// worker subprocess pool: the agent's interactive authentication does
// not survive re-parenting. The isolation that matters is between an
// executor and the agent child process it spawns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/executor"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/task/logsink"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	"github.com/taskforge/taskforge/internal/telemetry"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// Common errors
var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Scheduler owns the queue of admitted tasks and the executor slots.
type Scheduler struct {
	store    *store.Store
	executor *executor.Executor
	orch     *orchestrator.Orchestrator
	metrics  *telemetry.Metrics
	logger   *logger.Logger

	maxConcurrent int64
	sem           *semaphore.Weighted
	queue         *taskQueue
	wake          chan struct{}

	totalProcessed atomic.Int64
	totalFailed    atomic.Int64
	active         atomic.Int64

	mu      sync.Mutex
	running bool
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. maxConcurrent bounds in-flight executors.
func New(st *store.Store, exec *executor.Executor, orch *orchestrator.Orchestrator, metrics *telemetry.Metrics, maxConcurrent int, log *logger.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	s := &Scheduler{
		store:         st,
		executor:      exec,
		orch:          orch,
		metrics:       metrics,
		logger:        log.WithFields(zap.String("component", "scheduler")),
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		queue:         newTaskQueue(),
		wake:          make(chan struct{}, 1),
		// Replaced by Start; admission before Start still needs a
		// usable context for orchestration waiters.
		ctx: context.Background(),
	}
	orch.SetDispatcher(s)
	return s
}

// Start recovers interrupted work and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.ctx, s.stop = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.recover(s.ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	s.logger.Info("scheduler started", zap.Int64("max_concurrent", s.maxConcurrent))
	return nil
}

// Stop halts dispatching and waits for in-flight executors to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.stop()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Submit admits a single task. Synchronous with respect to admission:
// the row exists when this returns. Execution is asynchronous.
func (s *Scheduler) Submit(ctx context.Context, input models.TaskInput) (*models.Task, error) {
	task, err := s.store.CreateTask(ctx, input)
	if err != nil {
		return nil, err
	}
	s.Dispatch(task)
	return task, nil
}

// SubmitGroup admits a batch with declared dependencies. The batch is
// validated and persisted atomically before this returns.
func (s *Scheduler) SubmitGroup(ctx context.Context, specs []models.TaskInput) (*models.Orchestration, []*models.Task, error) {
	orch, tasks, err := s.store.CreateOrchestration(ctx, specs)
	if err != nil {
		return nil, nil, err
	}
	if err := s.orch.Launch(s.ctx, orch, tasks); err != nil {
		return nil, nil, err
	}
	return orch, tasks, nil
}

// Dispatch queues a ready task for execution. Implements
// orchestrator.Dispatcher.
func (s *Scheduler) Dispatch(task *models.Task) {
	if s.queue.Enqueue(task) {
		s.notify()
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop hands queued tasks to executors as slots free up.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			if !s.sem.TryAcquire(1) {
				break
			}
			task := s.queue.Dequeue()
			if task == nil {
				s.sem.Release(1)
				break
			}

			s.wg.Add(1)
			s.active.Add(1)
			go func(t *models.Task) {
				defer s.wg.Done()
				defer s.active.Add(-1)
				defer s.sem.Release(1)
				defer s.notify()
				s.run(t)
			}(task)
		}
	}
}

// run executes one task and propagates its terminal outcome to the
// orchestrator.
func (s *Scheduler) run(task *models.Task) {
	status := s.executor.Execute(s.ctx, task)
	if !status.IsTerminal() {
		// Shutdown left the row running for the next process.
		return
	}

	s.totalProcessed.Add(1)
	if status == v1.TaskStatusFailed {
		s.totalFailed.Add(1)
	}
	if s.metrics != nil {
		s.metrics.RecordOutcome(string(status))
		s.metrics.SetActiveTasks(int(s.active.Load()) - 1)
		s.metrics.SetQueuedTasks(s.queue.Len())
	}
	s.orch.NotifyTerminal(task.ID, outcomeOf(status))
}

func outcomeOf(status v1.TaskStatus) orchestrator.Outcome {
	switch status {
	case v1.TaskStatusCompleted:
		return orchestrator.OutcomeCompleted
	case v1.TaskStatusCancelled:
		return orchestrator.OutcomeCancelled
	case v1.TaskStatusSkipped:
		return orchestrator.OutcomeSkipped
	default:
		return orchestrator.OutcomeFailed
	}
}

// Cancel signals a task. Running tasks get their agent terminated;
// queued and waiting tasks are finalized directly. Terminal tasks are
// a no-op. Best-effort and idempotent.
func (s *Scheduler) Cancel(ctx context.Context, taskID int64) (v1.TaskStatus, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.Status.IsTerminal() {
		return task.Status, nil
	}

	if s.executor.Cancel(taskID) {
		// The executor finalizes the row and notifies the
		// orchestrator on its own exit path.
		return v1.TaskStatusCancelled, nil
	}

	// Not running: take it out of the queue (if queued) and finalize.
	s.queue.Remove(taskID)
	err = s.store.Finalize(ctx, taskID, task.Status, store.Outcome{
		Status:       v1.TaskStatusCancelled,
		ErrorMessage: "cancelled by user",
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Lost the race with the executor or a dependency skip;
			// the row is settling on its own.
			current, gerr := s.store.GetTask(ctx, taskID)
			if gerr == nil {
				return current.Status, nil
			}
		}
		return "", err
	}
	s.orch.NotifyTerminal(taskID, orchestrator.OutcomeCancelled)
	return v1.TaskStatusCancelled, nil
}

// CancelOrchestration cancels every non-terminal member of a group.
func (s *Scheduler) CancelOrchestration(ctx context.Context, orchID int64) (*models.Orchestration, error) {
	tasks, err := s.store.ListOrchestrationTasks(ctx, orchID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrOrchestrationNotFound
	}

	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if _, err := s.Cancel(ctx, t.ID); err != nil {
			s.logger.Warn("failed to cancel orchestration member",
				zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}

	if err := s.store.CancelOrchestrationRow(ctx, orchID); err != nil {
		return nil, err
	}
	return s.store.GetOrchestration(ctx, orchID)
}

// Status reports queue occupancy for the status endpoint.
func (s *Scheduler) Status() v1.QueueStatus {
	return v1.QueueStatus{
		QueuedTasks:      s.queue.Len(),
		ActiveExecutions: int(s.active.Load()),
		MaxConcurrent:    int(s.maxConcurrent),
		TotalProcessed:   s.totalProcessed.Load(),
		TotalFailed:      s.totalFailed.Load(),
	}
}

// recover re-queues the rows a previous process left non-terminal.
// Tasks found running are stamped with a recovery marker: the previous
// process died mid-task.
func (s *Scheduler) recover(ctx context.Context) error {
	tasks, err := s.store.LoadPendingOnStartup(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	s.logger.Info("recovering interrupted tasks", zap.Int("count", len(tasks)))

	byOrch := make(map[int64][]*models.Task)
	for _, t := range tasks {
		if t.Status == v1.TaskStatusRunning {
			s.markRecovered(t)
			if err := s.store.Transition(ctx, t.ID, v1.TaskStatusRunning, v1.TaskStatusPending, nil); err != nil {
				s.logger.Error("failed to re-queue running task",
					zap.Int64("task_id", t.ID), zap.Error(err))
				continue
			}
			t.Status = v1.TaskStatusPending
		}

		if t.OrchestrationID != nil {
			byOrch[*t.OrchestrationID] = append(byOrch[*t.OrchestrationID], t)
			continue
		}
		s.Dispatch(t)
	}

	for orchID := range byOrch {
		if err := s.recoverOrchestration(ctx, orchID); err != nil {
			s.logger.Error("failed to recover orchestration",
				zap.Int64("orchestration_id", orchID), zap.Error(err))
		}
	}
	return nil
}

// recoverOrchestration rebuilds the event graph of an interrupted
// group: terminal members get their events fired with the persisted
// outcome, waiting members get fresh waiters, pending members are
// re-queued.
func (s *Scheduler) recoverOrchestration(ctx context.Context, orchID int64) error {
	members, err := s.store.ListOrchestrationTasks(ctx, orchID)
	if err != nil {
		return err
	}
	return s.orch.Recover(s.ctx, orchID, members)
}

// markRecovered writes the crash marker into the task's logs.
func (s *Scheduler) markRecovered(t *models.Task) {
	sink, err := logsink.Open(t.SummaryLogPath, t.DetailedLogPath)
	if err != nil {
		s.logger.Warn("cannot write recovery marker",
			zap.Int64("task_id", t.ID), zap.Error(err))
		return
	}
	defer sink.Close()
	_ = sink.Summary(logsink.CodeRecover, "service restarted mid-task, re-queued")
	_ = sink.Detail(`{"event":"recovery","reason":"previous process exited while the task was running"}`)
}
