// Package executor drives a single task end-to-end: spawn the agent,
// stream its messages into the task logs, classify the outcome, and
// persist the terminal state.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/agent/stream"
	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/resilience/classify"
	"github.com/taskforge/taskforge/internal/resilience/retry"
	"github.com/taskforge/taskforge/internal/task/logsink"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	"github.com/taskforge/taskforge/internal/telemetry"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// BreakerKey names the external dependency every invocation is
// accounted against.
const BreakerKey = "agent.invoke"

// errCancelRequested marks a context cancelled by an explicit user
// cancel, as opposed to a fired deadline.
var errCancelRequested = errors.New("cancel requested")

// Executor runs tasks against the external agent. One Executor serves
// the whole process; each Execute call drives one task.
type Executor struct {
	store   *store.Store
	invoker *agent.Invoker
	retrier *retry.Controller
	cfg     config.ExecutorConfig
	metrics *telemetry.Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	cancels map[int64]context.CancelCauseFunc
}

// New creates an executor.
func New(st *store.Store, inv *agent.Invoker, retrier *retry.Controller, cfg config.ExecutorConfig, metrics *telemetry.Metrics, log *logger.Logger) *Executor {
	return &Executor{
		store:   st,
		invoker: inv,
		retrier: retrier,
		cfg:     cfg,
		metrics: metrics,
		logger:  log.WithFields(zap.String("component", "executor")),
		cancels: make(map[int64]context.CancelCauseFunc),
	}
}

// Execute drives one pending task to a terminal state and returns that
// state. Both log files are closed on every exit path, and the task
// row ends terminal except on service shutdown, where it is left
// running for startup recovery.
func (e *Executor) Execute(ctx context.Context, task *models.Task) v1.TaskStatus {
	log := e.logger.WithTaskID(task.ID)

	pid := int64(os.Getpid())
	err := e.store.Transition(ctx, task.ID, v1.TaskStatusPending, v1.TaskStatusRunning,
		&store.TransitionPatch{WorkerPID: &pid})
	if err != nil {
		// Raced with a cancel; whatever state the row is in now wins.
		log.Warn("task not dispatchable", zap.Error(err))
		if current, gerr := e.store.GetTask(ctx, task.ID); gerr == nil {
			return current.Status
		}
		return v1.TaskStatusFailed
	}

	sink, err := logsink.Open(task.SummaryLogPath, task.DetailedLogPath)
	if err != nil {
		// Without logs the task cannot run; fail it with a pointer at
		// the path so the operator can fix permissions.
		log.Error("failed to open task logs", zap.Error(err))
		e.finalize(task.ID, store.Outcome{
			Status:       v1.TaskStatusFailed,
			ErrorMessage: fmt.Sprintf("[%s] cannot open task log files | hint: check that %s is writable", classify.KindAgentGeneric, task.SummaryLogPath),
		}, log)
		return v1.TaskStatusFailed
	}
	defer sink.Close()

	_ = sink.Summary(logsink.CodeStart, fmt.Sprintf("tier=%s dir=%s pid=%d", task.ModelTier, task.WorkingDir, pid))

	timeout := e.cfg.TimeoutForTier(string(task.ModelTier))
	taskCtx, cancel := context.WithCancelCause(ctx)
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, timeout)
	defer timeoutCancel()

	e.mu.Lock()
	e.cancels[task.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, task.ID)
		e.mu.Unlock()
		cancel(nil)
	}()

	var finalSummary string
	attempt := 0
	failure := e.retrier.Do(taskCtx, BreakerKey, func(attemptCtx context.Context) error {
		attempt++
		summary, err := e.invoker.Invoke(attemptCtx, agent.Params{
			WorkingDir:      task.WorkingDir,
			SystemPrompt:    task.SystemPrompt,
			ExecutionPrompt: task.ExecutionPrompt,
			OnMessage: func(msg stream.Message, raw string) {
				e.observe(task.ID, sink, msg, raw, log)
			},
		})
		if err != nil {
			return err
		}
		finalSummary = summary
		return nil
	}, func(attempt int, delay time.Duration, f *classify.Failure) {
		if e.metrics != nil {
			e.metrics.RecordRetry()
		}
		line := fmt.Sprintf("attempt %d failed (%s), retrying in %s", attempt, f.Kind, delay.Round(time.Millisecond))
		_ = sink.Summary(logsink.CodeRetry, line)
		e.detailJSON(sink, map[string]any{
			"event":   "retry",
			"attempt": attempt,
			"delay":   delay.String(),
			"kind":    string(f.Kind),
			"error":   f.Description,
		})
	})

	if context.Cause(taskCtx) == errCancelRequested {
		_ = sink.Summary(logsink.CodeCancel, "task cancelled, agent terminated")
		e.finalize(task.ID, store.Outcome{
			Status:       v1.TaskStatusCancelled,
			ErrorMessage: "cancelled by user",
		}, log)
		return v1.TaskStatusCancelled
	}

	// A dying parent context is a service shutdown, not a task
	// outcome: the row stays running and startup recovery re-queues
	// it. A success that raced the shutdown still counts.
	if failure != nil && ctx.Err() != nil {
		_ = sink.Summary(logsink.CodeWarn, "service shutting down, task will be re-queued on restart")
		return v1.TaskStatusRunning
	}

	if failure == nil {
		_ = sink.Summary(logsink.CodeDone, firstLine(finalSummary))
		e.finalize(task.ID, store.Outcome{
			Status:       v1.TaskStatusCompleted,
			FinalSummary: finalSummary,
		}, log)
		log.Info("task completed", zap.Int("attempts", attempt))
		return v1.TaskStatusCompleted
	}

	// Attach the environment probe to the failure context. This is
	// descriptive only; the kind is already decided.
	classify.WithDiagnostics(failure, agent.Diagnose(e.invoker.Command()))
	e.detailJSON(sink, map[string]any{
		"event":         "failure",
		"kind":          string(failure.Kind),
		"transient":     failure.Transient,
		"description":   failure.Description,
		"recovery_hint": failure.RecoveryHint,
		"debug_context": failure.DebugContext,
	})
	_ = sink.Summary(logsink.CodeFail, fmt.Sprintf("[%s] %s", failure.Kind, failure.Description))

	e.finalize(task.ID, store.Outcome{
		Status:       v1.TaskStatusFailed,
		ErrorMessage: failure.Error(),
	}, log)
	log.Warn("task failed",
		zap.String("kind", string(failure.Kind)),
		zap.Int("attempts", attempt))
	return v1.TaskStatusFailed
}

// observe handles one streamed agent message: full payload into the
// detailed log, and for tool use a one-line summary into both the
// last_action cache and the summary log.
func (e *Executor) observe(taskID int64, sink *logsink.Sink, msg stream.Message, raw string, log *logger.Logger) {
	_ = sink.Detail(raw)

	if msg.Kind != stream.KindToolUse {
		return
	}
	line := stream.ToolSummary(msg)
	if err := e.store.AppendAction(context.Background(), taskID, line); err != nil {
		log.Warn("failed to update last_action", zap.Error(err))
	}
	_ = sink.Summary(logsink.CodeTool, line)
}

// Cancel signals the executor of a running task. The agent child
// receives SIGTERM through the invocation context. Unknown ids are a
// no-op: cancellation is best-effort and idempotent.
func (e *Executor) Cancel(taskID int64) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel(errCancelRequested)
	return true
}

// finalize persists the terminal outcome. It deliberately uses a fresh
// context: the task context may already be dead, and a terminal row
// must be written regardless.
func (e *Executor) finalize(taskID int64, outcome store.Outcome, log *logger.Logger) {
	if err := e.store.Finalize(context.Background(), taskID, v1.TaskStatusRunning, outcome); err != nil {
		log.Error("failed to finalize task", zap.Error(err))
	}
}

func (e *Executor) detailJSON(sink *logsink.Sink, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = sink.Detail(string(data))
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
