package v1

import "time"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// ModelTier selects the quality/latency class of the agent model.
// Each tier maps to a per-task timeout budget on the server.
type ModelTier string

const (
	ModelTierFast     ModelTier = "fast"
	ModelTierBalanced ModelTier = "balanced"
	ModelTierDeep     ModelTier = "deep"
)

// ValidModelTier reports whether t is a member of the enumerated tier set.
func ValidModelTier(t ModelTier) bool {
	switch t {
	case ModelTierFast, ModelTierBalanced, ModelTierDeep:
		return true
	}
	return false
}

// Task is the wire representation of a persisted task row
type Task struct {
	ID              int64      `json:"id"`
	Status          TaskStatus `json:"status"`
	ModelTier       ModelTier  `json:"model_tier"`
	WorkingDir      string     `json:"working_dir"`
	SystemPrompt    string     `json:"system_prompt,omitempty"`
	ExecutionPrompt string     `json:"execution_prompt"`
	SummaryLogPath  string     `json:"summary_log_path"`
	DetailedLogPath string     `json:"detailed_log_path"`
	LastAction      string     `json:"last_action,omitempty"`
	FinalSummary    *string    `json:"final_summary,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`

	// Orchestration membership, empty for direct submissions
	OrchestrationID *int64   `json:"orchestration_id,omitempty"`
	TaskIdentifier  string   `json:"task_identifier,omitempty"`
	DependsOn       []string `json:"depends_on,omitempty"`
	WaitAfterDeps   float64  `json:"wait_after_dependencies,omitempty"`
}

// OrchestrationStatus represents the aggregate state of a task group
type OrchestrationStatus string

const (
	OrchestrationStatusPending   OrchestrationStatus = "pending"
	OrchestrationStatusRunning   OrchestrationStatus = "running"
	OrchestrationStatusCompleted OrchestrationStatus = "completed"
	OrchestrationStatusFailed    OrchestrationStatus = "failed"
	OrchestrationStatusCancelled OrchestrationStatus = "cancelled"
)

// Orchestration is the wire representation of a task group with its aggregate counts
type Orchestration struct {
	ID             int64               `json:"id"`
	Status         OrchestrationStatus `json:"status"`
	TotalTasks     int                 `json:"total_tasks"`
	CompletedTasks int                 `json:"completed_tasks"`
	FailedTasks    int                 `json:"failed_tasks"`
	SkippedTasks   int                 `json:"skipped_tasks"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
	Tasks          []*Task             `json:"tasks,omitempty"`
}
