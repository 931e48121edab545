// Package orchestrator admits groups of tasks with declared
// dependencies and gates each member on its predecessors.
//
// Dependency waits are purely event-driven: every task owns one
// completion event fired exactly once at terminal, and waiters block
// on the set of predecessor events. The task table is never polled.
// Tasks do not know the orchestrator; completion flows through events,
// not back-pointers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// Dispatcher launches a ready task. The scheduler implements it; the
// orchestrator never runs agents itself.
type Dispatcher interface {
	Dispatch(task *models.Task)
}

// Orchestrator tracks the in-flight task groups of the process.
type Orchestrator struct {
	store      *store.Store
	dispatcher Dispatcher
	logger     *logger.Logger

	mu     sync.Mutex
	events map[int64]*Event // task id -> completion event
	orchOf map[int64]int64  // task id -> orchestration id
}

// New creates an orchestrator over the store.
func New(st *store.Store, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		logger: log.WithFields(zap.String("component", "orchestrator")),
		events: make(map[int64]*Event),
		orchOf: make(map[int64]int64),
	}
}

// SetDispatcher wires the scheduler in. Must be called before Launch.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// Launch arms one completion event per member. Roots are dispatched
// immediately; each dependent task gets a waiter goroutine that blocks
// on its predecessor events.
func (o *Orchestrator) Launch(ctx context.Context, orch *models.Orchestration, tasks []*models.Task) error {
	byIdentifier := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byIdentifier[t.TaskIdentifier] = t
	}

	o.mu.Lock()
	for _, t := range tasks {
		o.events[t.ID] = NewEvent()
		o.orchOf[t.ID] = orch.ID
	}
	o.mu.Unlock()

	if err := o.store.MarkOrchestrationStarted(ctx, orch.ID); err != nil {
		return fmt.Errorf("failed to mark orchestration started: %w", err)
	}

	o.logger.Info("orchestration launched",
		zap.Int64("orchestration_id", orch.ID),
		zap.Int("total_tasks", len(tasks)))

	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			o.dispatcher.Dispatch(t)
			continue
		}
		go o.waitAndRun(ctx, t, byIdentifier)
	}
	return nil
}

// waitAndRun blocks on every predecessor event, then either skips the
// task (a predecessor ended non-completed) or hands it to the
// scheduler after the optional settle delay.
func (o *Orchestrator) waitAndRun(ctx context.Context, task *models.Task, byIdentifier map[string]*models.Task) {
	log := o.logger.WithTaskID(task.ID)

	for _, depIdentifier := range task.DependsOn {
		dep := byIdentifier[depIdentifier]
		ev := o.event(dep.ID)

		select {
		case <-ev.Done():
		case <-ctx.Done():
			return
		}

		if outcome := ev.Outcome(); outcome != OutcomeCompleted {
			log.Info("skipping task, dependency did not complete",
				zap.String("dependency", depIdentifier),
				zap.String("outcome", string(outcome)))
			o.skip(task, fmt.Sprintf("dependency '%s' ended %s", depIdentifier, outcome))
			return
		}
	}

	if task.WaitAfterDeps > 0 {
		settle := time.Duration(task.WaitAfterDeps * float64(time.Second))
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return
		}
	}

	if err := o.store.Transition(context.Background(), task.ID, v1.TaskStatusWaiting, v1.TaskStatusPending, nil); err != nil {
		// The task left waiting underneath us (a cancel); its own
		// terminal notification handles the event.
		log.Warn("task no longer waiting, not dispatching", zap.Error(err))
		return
	}
	o.dispatcher.Dispatch(task)
}

// skip finalizes a task without launching an executor and cascades its
// own event so successors skip too.
func (o *Orchestrator) skip(task *models.Task, reason string) {
	ctx := context.Background()
	err := o.store.Finalize(ctx, task.ID, v1.TaskStatusWaiting, store.Outcome{
		Status:       v1.TaskStatusSkipped,
		ErrorMessage: reason,
	})
	if err != nil {
		o.logger.WithTaskID(task.ID).Error("failed to mark task skipped", zap.Error(err))
	}
	o.NotifyTerminal(task.ID, OutcomeSkipped)
}

// NotifyTerminal fires the completion event of a task and recomputes
// its orchestration aggregate. Safe to call for direct submissions
// (no event registered) and safe to call more than once.
func (o *Orchestrator) NotifyTerminal(taskID int64, outcome Outcome) {
	o.mu.Lock()
	ev := o.events[taskID]
	orchID, inOrch := o.orchOf[taskID]
	o.mu.Unlock()

	if ev != nil {
		ev.Fire(outcome)
	}
	if !inOrch {
		return
	}

	orch, err := o.store.RecomputeOrchestrationAggregate(context.Background(), orchID)
	if err != nil {
		o.logger.Error("failed to recompute orchestration aggregate",
			zap.Int64("orchestration_id", orchID), zap.Error(err))
		return
	}
	if orch.Status == v1.OrchestrationStatusCompleted ||
		orch.Status == v1.OrchestrationStatusFailed ||
		orch.Status == v1.OrchestrationStatusCancelled {
		o.logger.Info("orchestration finished",
			zap.Int64("orchestration_id", orchID),
			zap.String("status", string(orch.Status)),
			zap.Int("completed", orch.CompletedTasks),
			zap.Int("failed", orch.FailedTasks),
			zap.Int("skipped", orch.SkippedTasks))
		o.release(orchID)
	}
}

// Recover rebuilds the event graph of an interrupted orchestration
// after a restart. Terminal members have their events fired with the
// persisted outcome; waiting members get fresh waiters; pending and
// running members are re-queued by the scheduler and will notify
// through the normal path.
func (o *Orchestrator) Recover(ctx context.Context, orchID int64, members []*models.Task) error {
	byIdentifier := make(map[string]*models.Task, len(members))

	o.mu.Lock()
	for _, t := range members {
		byIdentifier[t.TaskIdentifier] = t
		if _, ok := o.events[t.ID]; !ok {
			o.events[t.ID] = NewEvent()
		}
		o.orchOf[t.ID] = orchID
	}
	o.mu.Unlock()

	for _, t := range members {
		switch t.Status {
		case v1.TaskStatusCompleted:
			o.event(t.ID).Fire(OutcomeCompleted)
		case v1.TaskStatusFailed:
			o.event(t.ID).Fire(OutcomeFailed)
		case v1.TaskStatusCancelled:
			o.event(t.ID).Fire(OutcomeCancelled)
		case v1.TaskStatusSkipped:
			o.event(t.ID).Fire(OutcomeSkipped)
		case v1.TaskStatusWaiting:
			go o.waitAndRun(ctx, t, byIdentifier)
		case v1.TaskStatusPending:
			o.dispatcher.Dispatch(t)
		}
	}

	o.logger.Info("orchestration recovered",
		zap.Int64("orchestration_id", orchID),
		zap.Int("members", len(members)))
	return nil
}

// event returns the completion event for a task, creating it if the
// task finished before anyone registered interest.
func (o *Orchestrator) event(taskID int64) *Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	ev, ok := o.events[taskID]
	if !ok {
		ev = NewEvent()
		o.events[taskID] = ev
	}
	return ev
}

// release drops the bookkeeping of a finished orchestration.
func (o *Orchestrator) release(orchID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for taskID, id := range o.orchOf {
		if id == orchID {
			delete(o.orchOf, taskID)
			delete(o.events, taskID)
		}
	}
}

// MemberIDs returns the tracked task ids of an in-flight
// orchestration, for cancellation.
func (o *Orchestrator) MemberIDs(orchID int64) []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []int64
	for taskID, id := range o.orchOf {
		if id == orchID {
			ids = append(ids, taskID)
		}
	}
	return ids
}
