package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/task/store"
)

// SetupRoutes configures the task API routes.
func SetupRoutes(router *gin.RouterGroup, sched *scheduler.Scheduler, st *store.Store, log *logger.Logger) {
	handler := NewHandler(sched, st, log)

	tasks := router.Group("/tasks")
	{
		tasks.POST("", handler.CreateTask)
		tasks.GET("", handler.ListTasks)
		tasks.GET("/:taskId", handler.GetTask)
		tasks.GET("/:taskId/logs", handler.GetTaskLogs)
		tasks.POST("/:taskId/cancel", handler.CancelTask)
	}

	// Machine-client surface: same operations, stricter admission.
	router.POST("/mcp/tasks", handler.CreateTaskStrict)

	orchestrations := router.Group("/orchestrations")
	{
		orchestrations.POST("", handler.CreateOrchestration)
		orchestrations.GET("", handler.ListOrchestrations)
		orchestrations.GET("/:orchId", handler.GetOrchestration)
		orchestrations.POST("/:orchId/cancel", handler.CancelOrchestration)
	}

	router.GET("/queue", handler.GetQueue)
}
