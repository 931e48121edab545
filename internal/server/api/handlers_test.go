package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/executor"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
	"github.com/taskforge/taskforge/internal/resilience/retry"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/task/store"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// setupRouter wires the full stack minus a started scheduler, so
// admission and query paths run for real while no agent is spawned.
func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	log := logger.Default()

	st, err := store.NewStore(filepath.Join(dir, "tasks.db"), filepath.Join(dir, "tasks"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	breakers, err := breaker.NewRegistry(filepath.Join(dir, "breakers"), breaker.DefaultConfig(), log)
	require.NoError(t, err)
	retrier := retry.NewController(retry.DefaultConfig(), breakers, log)

	execCfg := config.ExecutorConfig{
		MaxConcurrent:      4,
		AgentCommand:       "definitely-not-a-real-agent",
		FastTimeoutMin:     10,
		BalancedTimeoutMin: 30,
		DeepTimeoutMin:     60,
	}
	exec := executor.New(st, agent.NewInvoker(execCfg.AgentCommand, log), retrier, execCfg, nil, log)
	orch := orchestrator.New(st, log)
	sched := scheduler.New(st, exec, orch, nil, execCfg.MaxConcurrent, log)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), sched, st, log)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTaskLoose(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/tasks", v1.CreateTaskRequest{
		ExecutionPrompt: "write /tmp/hello.txt containing 'hi'",
		WorkingDir:      "/tmp",
		ModelTier:       v1.ModelTierBalanced,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp v1.CreateTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, v1.TaskStatusPending, resp.Status)
}

func TestCreateTaskLooseRejectsEmptyPrompt(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]string{
		"execution_prompt": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "execution_prompt")
}

func TestCreateTaskStrictBoundary(t *testing.T) {
	router := setupRouter(t)

	short := v1.CreateTaskRequest{
		ExecutionPrompt: strictPrompt(149),
		WorkingDir:      "/tmp",
	}
	w := doRequest(t, router, http.MethodPost, "/api/v1/mcp/tasks", short)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ok := v1.CreateTaskRequest{
		ExecutionPrompt: strictPrompt(150),
		WorkingDir:      "/tmp",
	}
	w = doRequest(t, router, http.MethodPost, "/api/v1/mcp/tasks", ok)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestGetTask(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/tasks", v1.CreateTaskRequest{
		ExecutionPrompt: "p", WorkingDir: "/tmp",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var task v1.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, int64(1), task.ID)
	assert.NotEmpty(t, task.SummaryLogPath)
}

func TestGetTaskNotFound(t *testing.T) {
	router := setupRouter(t)
	w := doRequest(t, router, http.MethodGet, "/api/v1/tasks/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskBadID(t *testing.T) {
	router := setupRouter(t)
	w := doRequest(t, router, http.MethodGet, "/api/v1/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTasks(t *testing.T) {
	router := setupRouter(t)

	for i := 0; i < 3; i++ {
		w := doRequest(t, router, http.MethodPost, "/api/v1/tasks", v1.CreateTaskRequest{
			ExecutionPrompt: fmt.Sprintf("task %d", i), WorkingDir: "/tmp",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(t, router, http.MethodGet, "/api/v1/tasks?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tasks []*v1.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 2)
}

func TestCancelTaskIsIdempotent(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/tasks", v1.CreateTaskRequest{
		ExecutionPrompt: "p", WorkingDir: "/tmp",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/v1/tasks/1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp v1.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(v1.TaskStatusCancelled), resp.Status)

	// Cancelling a terminal task is a no-op that still succeeds.
	w = doRequest(t, router, http.MethodPost, "/api/v1/tasks/1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(v1.TaskStatusCancelled), resp.Status)
}

func TestCreateOrchestrationRejectsCycle(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/orchestrations", v1.CreateOrchestrationRequest{
		Tasks: []v1.OrchestrationTaskSpec{
			{TaskIdentifier: "A", ExecutionPrompt: "p", DependsOn: []string{"A"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "A")
}

func TestCreateOrchestrationRejectsUnknownDependency(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/orchestrations", v1.CreateOrchestrationRequest{
		Tasks: []v1.OrchestrationTaskSpec{
			{TaskIdentifier: "A", ExecutionPrompt: "p", DependsOn: []string{"X"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X")
}

func TestGetQueue(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status v1.QueueStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 4, status.MaxConcurrent)
}
