package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
	"github.com/taskforge/taskforge/internal/resilience/retry"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

func setupExecutor(t *testing.T, agentCommand, logDir string) (*Executor, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	log := logger.Default()

	if logDir == "" {
		logDir = filepath.Join(dir, "tasks")
	}
	st, err := store.NewStore(filepath.Join(dir, "tasks.db"), logDir, log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	breakers, err := breaker.NewRegistry(filepath.Join(dir, "breakers"), breaker.DefaultConfig(), log)
	require.NoError(t, err)
	retrier := retry.NewController(retry.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Schedule:    retry.ScheduleExponential,
	}, breakers, log)

	cfg := config.ExecutorConfig{
		MaxConcurrent:      2,
		AgentCommand:       agentCommand,
		FastTimeoutMin:     10,
		BalancedTimeoutMin: 30,
		DeepTimeoutMin:     60,
	}
	return New(st, agent.NewInvoker(agentCommand, log), retrier, cfg, nil, log), st
}

func TestExecuteCompletesTask(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "agent")
	script := `#!/bin/sh
echo '{"type":"tool_use","tool_name":"write","tool_input":{"path":"/tmp/f"}}'
echo '{"type":"result","summary":"wrote it"}'
`
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0755))

	exec, st := setupExecutor(t, scriptPath, "")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, models.TaskInput{ExecutionPrompt: "p", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	status := exec.Execute(ctx, task)
	assert.Equal(t, v1.TaskStatusCompleted, status)

	done, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, done.FinalSummary)
	assert.Equal(t, "wrote it", *done.FinalSummary)
	assert.Equal(t, "write {\"path\":\"/tmp/f\"}", done.LastAction)
	require.NotNil(t, done.WorkerPID)
	assert.Equal(t, int64(os.Getpid()), *done.WorkerPID)
}

func TestExecuteFailsWithFormattedError(t *testing.T) {
	exec, st := setupExecutor(t, "definitely-not-a-real-agent", "")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, models.TaskInput{ExecutionPrompt: "p", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	status := exec.Execute(ctx, task)
	assert.Equal(t, v1.TaskStatusFailed, status)

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, failed.ErrorMessage)
	// The user-visible form is "[kind] description | hint: ...".
	assert.Regexp(t, `^\[AgentMissing\] .+ \| hint: .+`, *failed.ErrorMessage)
	assert.Nil(t, failed.FinalSummary)

	// The detailed log retains the failure context including the
	// environment probe.
	data, err := os.ReadFile(failed.DetailedLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "diagnostics")
}

func TestExecuteFailsWhenLogsCannotOpen(t *testing.T) {
	// The log directory path collides with a regular file, so opening
	// the task logs fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	logDir := filepath.Join(blocker, "tasks")

	exec, st := setupExecutor(t, "sh", logDir)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, models.TaskInput{ExecutionPrompt: "p", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	status := exec.Execute(ctx, task)
	assert.Equal(t, v1.TaskStatusFailed, status)

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "AgentGeneric")
	assert.Contains(t, *failed.ErrorMessage, logDir)
}

func TestExecuteRefusesNonPendingTask(t *testing.T) {
	exec, st := setupExecutor(t, "sh", "")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, models.TaskInput{ExecutionPrompt: "p", WorkingDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, st.Finalize(ctx, task.ID, v1.TaskStatusPending, store.Outcome{
		Status: v1.TaskStatusCancelled, ErrorMessage: "cancelled by user",
	}))

	status := exec.Execute(ctx, task)
	assert.Equal(t, v1.TaskStatusCancelled, status, "a raced cancel wins; the row's state is reported as-is")
}

func TestCancelUnknownTaskIsNoOp(t *testing.T) {
	exec, _ := setupExecutor(t, "sh", "")
	assert.False(t, exec.Cancel(12345))
}
