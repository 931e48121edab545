package v1

// CreateTaskRequest is the loose submit surface. Defaults apply for
// every omitted field; validation happens server-side.
type CreateTaskRequest struct {
	ExecutionPrompt string    `json:"execution_prompt" binding:"required"`
	WorkingDir      string    `json:"working_dir,omitempty"`
	SystemPrompt    string    `json:"system_prompt,omitempty"`
	ModelTier       ModelTier `json:"model_tier,omitempty"`
}

// OrchestrationTaskSpec is one member of a batch submit. TaskIdentifier
// must be unique within the batch; DependsOn names other identifiers.
type OrchestrationTaskSpec struct {
	TaskIdentifier  string    `json:"task_identifier" binding:"required"`
	DependsOn       []string  `json:"depends_on,omitempty"`
	WaitAfterDeps   float64   `json:"wait_after_dependencies,omitempty"`
	ExecutionPrompt string    `json:"execution_prompt" binding:"required"`
	WorkingDir      string    `json:"working_dir,omitempty"`
	SystemPrompt    string    `json:"system_prompt,omitempty"`
	ModelTier       ModelTier `json:"model_tier,omitempty"`
}

// CreateOrchestrationRequest is the batch submit surface. Admission is
// all-or-nothing: a single invalid spec rejects the whole batch.
type CreateOrchestrationRequest struct {
	Tasks []OrchestrationTaskSpec `json:"tasks" binding:"required"`
}

// CreateTaskResponse is returned by both submit surfaces.
type CreateTaskResponse struct {
	ID     int64      `json:"id"`
	Status TaskStatus `json:"status"`
}

// CreateOrchestrationResponse is returned by the batch submit surface.
type CreateOrchestrationResponse struct {
	ID     int64               `json:"id"`
	Status OrchestrationStatus `json:"status"`
	Tasks  []*Task             `json:"tasks"`
}

// CancelResponse reports the post-mutation status of a cancel call.
type CancelResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// QueueStatus reports scheduler occupancy for the queue endpoint.
type QueueStatus struct {
	QueuedTasks      int   `json:"queued_tasks"`
	ActiveExecutions int   `json:"active_executions"`
	MaxConcurrent    int   `json:"max_concurrent"`
	TotalProcessed   int64 `json:"total_processed"`
	TotalFailed      int64 `json:"total_failed"`
}

// ErrorResponse is the uniform error envelope for the HTTP API. Field
// is present on validation failures and names the offending input.
type ErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}
