// Package api provides the HTTP handlers of the task service.
package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/task/models"
	"github.com/taskforge/taskforge/internal/task/store"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// defaultLogTail bounds the log endpoint when no tail is requested.
const defaultLogTail = 50

// Handler contains the HTTP handlers of the task API.
type Handler struct {
	scheduler *scheduler.Scheduler
	store     *store.Store
	logger    *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(sched *scheduler.Scheduler, st *store.Store, log *logger.Logger) *Handler {
	return &Handler{
		scheduler: sched,
		store:     st,
		logger:    log,
	}
}

// reject writes the error as the response body with its mapped status.
func reject(c *gin.Context, err *errors.Error) {
	c.JSON(err.Status(), err)
}

// CreateTask admits a single task on the loose surface.
// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	h.createTask(c, validateLoose)
}

// CreateTaskStrict admits a single task on the machine-client surface.
// POST /api/v1/mcp/tasks
func (h *Handler) CreateTaskStrict(c *gin.Context) {
	h.createTask(c, validateStrict)
}

func (h *Handler) createTask(c *gin.Context, validate func(*v1.CreateTaskRequest) *errors.Error) {
	var req v1.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, errors.Malformed(err.Error()))
		return
	}
	if err := validate(&req); err != nil {
		reject(c, err)
		return
	}

	workingDir := req.WorkingDir
	if workingDir == "" {
		// Loose surface only; the strict validator already required it.
		workingDir, _ = os.Getwd()
	}

	task, err := h.scheduler.Submit(c.Request.Context(), models.TaskInput{
		ExecutionPrompt: req.ExecutionPrompt,
		WorkingDir:      workingDir,
		SystemPrompt:    req.SystemPrompt,
		ModelTier:       req.ModelTier,
	})
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to create task", zap.Error(err))
		reject(c, errors.Internal("failed to create task", err))
		return
	}

	c.JSON(http.StatusCreated, v1.CreateTaskResponse{ID: task.ID, Status: task.Status})
}

// CreateOrchestration admits a batch of tasks with dependencies.
// POST /api/v1/orchestrations
func (h *Handler) CreateOrchestration(c *gin.Context) {
	var req v1.CreateOrchestrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, errors.Malformed(err.Error()))
		return
	}
	if err := validateOrchestration(&req); err != nil {
		reject(c, err)
		return
	}

	specs := make([]models.TaskInput, len(req.Tasks))
	for i, spec := range req.Tasks {
		workingDir := spec.WorkingDir
		if workingDir == "" {
			workingDir, _ = os.Getwd()
		}
		specs[i] = models.TaskInput{
			ExecutionPrompt: spec.ExecutionPrompt,
			WorkingDir:      workingDir,
			SystemPrompt:    spec.SystemPrompt,
			ModelTier:       spec.ModelTier,
			TaskIdentifier:  spec.TaskIdentifier,
			DependsOn:       spec.DependsOn,
			WaitAfterDeps:   spec.WaitAfterDeps,
		}
	}

	orch, tasks, err := h.scheduler.SubmitGroup(c.Request.Context(), specs)
	if err != nil {
		// Cycles, duplicate identifiers and unknown dependencies are
		// the batch's fault, not the server's.
		reject(c, errors.AdmissionRejected(err))
		return
	}

	out := make([]*v1.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.ToAPI()
	}
	c.JSON(http.StatusCreated, v1.CreateOrchestrationResponse{
		ID:     orch.ID,
		Status: orch.Status,
		Tasks:  out,
	})
}

// GetTask retrieves a task by id.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := h.pathID(c, "taskId")
	if !ok {
		return
	}

	task, err := h.store.GetTask(c.Request.Context(), id)
	if err != nil {
		reject(c, errors.TaskNotFound(id))
		return
	}
	c.JSON(http.StatusOK, task.ToAPI())
}

// ListTasks lists tasks, optionally filtered by status.
// GET /api/v1/tasks?status=running&limit=20
func (h *Handler) ListTasks(c *gin.Context) {
	status := v1.TaskStatus(c.Query("status"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			reject(c, errors.InvalidField("limit", "must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	tasks, err := h.store.ListTasks(c.Request.Context(), status, limit)
	if err != nil {
		reject(c, errors.Internal("failed to list tasks", err))
		return
	}

	out := make([]*v1.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.ToAPI()
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTaskLogs serves the tail of a task's summary or detailed log.
// GET /api/v1/tasks/:taskId/logs?log=summary&tail=50
func (h *Handler) GetTaskLogs(c *gin.Context) {
	id, ok := h.pathID(c, "taskId")
	if !ok {
		return
	}

	task, err := h.store.GetTask(c.Request.Context(), id)
	if err != nil {
		reject(c, errors.TaskNotFound(id))
		return
	}

	path := task.SummaryLogPath
	if c.Query("log") == "detailed" {
		path = task.DetailedLogPath
	}
	tail := defaultLogTail
	if raw := c.Query("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			tail = parsed
		}
	}

	lines, err := tailFile(path, tail)
	if err != nil {
		reject(c, errors.Internal("failed to read task log", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "lines": lines})
}

// CancelTask cancels a task, returning its post-mutation status.
// POST /api/v1/tasks/:taskId/cancel
func (h *Handler) CancelTask(c *gin.Context) {
	id, ok := h.pathID(c, "taskId")
	if !ok {
		return
	}

	status, err := h.scheduler.Cancel(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrTaskNotFound {
			reject(c, errors.TaskNotFound(id))
			return
		}
		h.logger.WithContext(c.Request.Context()).Error("failed to cancel task",
			zap.Int64("task_id", id), zap.Error(err))
		reject(c, errors.Internal("failed to cancel task", err))
		return
	}
	c.JSON(http.StatusOK, v1.CancelResponse{ID: id, Status: string(status)})
}

// GetOrchestration returns the aggregate plus member summaries.
// GET /api/v1/orchestrations/:orchId
func (h *Handler) GetOrchestration(c *gin.Context) {
	id, ok := h.pathID(c, "orchId")
	if !ok {
		return
	}

	orch, err := h.store.GetOrchestration(c.Request.Context(), id)
	if err != nil {
		reject(c, errors.OrchestrationNotFound(id))
		return
	}
	tasks, err := h.store.ListOrchestrationTasks(c.Request.Context(), id)
	if err != nil {
		reject(c, errors.Internal("failed to list orchestration tasks", err))
		return
	}

	out := orch.ToAPI()
	out.Tasks = make([]*v1.Task, len(tasks))
	for i, t := range tasks {
		out.Tasks[i] = t.ToAPI()
	}
	c.JSON(http.StatusOK, out)
}

// ListOrchestrations lists all orchestrations.
// GET /api/v1/orchestrations
func (h *Handler) ListOrchestrations(c *gin.Context) {
	orchs, err := h.store.ListOrchestrations(c.Request.Context())
	if err != nil {
		reject(c, errors.Internal("failed to list orchestrations", err))
		return
	}

	out := make([]*v1.Orchestration, len(orchs))
	for i, o := range orchs {
		out[i] = o.ToAPI()
	}
	c.JSON(http.StatusOK, gin.H{"orchestrations": out})
}

// CancelOrchestration cancels every non-terminal member of a group.
// POST /api/v1/orchestrations/:orchId/cancel
func (h *Handler) CancelOrchestration(c *gin.Context) {
	id, ok := h.pathID(c, "orchId")
	if !ok {
		return
	}

	orch, err := h.scheduler.CancelOrchestration(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrOrchestrationNotFound {
			reject(c, errors.OrchestrationNotFound(id))
			return
		}
		h.logger.WithContext(c.Request.Context()).Error("failed to cancel orchestration",
			zap.Int64("orchestration_id", id), zap.Error(err))
		reject(c, errors.Internal("failed to cancel orchestration", err))
		return
	}
	c.JSON(http.StatusOK, orch.ToAPI())
}

// GetQueue reports scheduler occupancy.
// GET /api/v1/queue
func (h *Handler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// HealthCheck reports service liveness.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		reject(c, errors.Malformed(name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

// tailFile returns the last n lines of a file. Missing files read as
// empty: the task may not have started yet.
func tailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
