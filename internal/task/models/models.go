// Package models defines the persistent task and orchestration records.
package models

import (
	"time"

	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// Task is a persisted task row. Status transitions are compare-and-set
// at the store; the invariants on timestamps and terminal fields are
// enforced there as well.
type Task struct {
	ID              int64          `db:"id"`
	Status          v1.TaskStatus  `db:"status"`
	ModelTier       v1.ModelTier   `db:"model_tier"`
	WorkingDir      string         `db:"working_dir"`
	SystemPrompt    string         `db:"system_prompt"`
	ExecutionPrompt string         `db:"execution_prompt"`
	SummaryLogPath  string         `db:"summary_log_path"`
	DetailedLogPath string         `db:"detailed_log_path"`
	LastAction      string         `db:"last_action"`
	FinalSummary    *string        `db:"final_summary"`
	ErrorMessage    *string        `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       *time.Time     `db:"started_at"`
	EndedAt         *time.Time     `db:"ended_at"`
	WorkerPID       *int64         `db:"worker_pid"`

	OrchestrationID *int64  `db:"orchestration_id"`
	TaskIdentifier  string  `db:"task_identifier"`
	DependsOnRaw    string  `db:"depends_on"` // JSON-encoded []string
	WaitAfterDeps   float64 `db:"wait_after_dependencies"`

	// DependsOn is decoded from DependsOnRaw by the store.
	DependsOn []string `db:"-"`
}

// Orchestration is a persisted task group row. The aggregate counts are
// recomputed from member rows on every member-terminal event.
type Orchestration struct {
	ID             int64                  `db:"id"`
	Status         v1.OrchestrationStatus `db:"status"`
	TotalTasks     int                    `db:"total_tasks"`
	CompletedTasks int                    `db:"completed_tasks"`
	FailedTasks    int                    `db:"failed_tasks"`
	SkippedTasks   int                    `db:"skipped_tasks"`
	CreatedAt      time.Time              `db:"created_at"`
	StartedAt      *time.Time             `db:"started_at"`
	EndedAt        *time.Time             `db:"ended_at"`
}

// TaskInput carries the fields a submit surface provides for one task.
type TaskInput struct {
	ExecutionPrompt string
	WorkingDir      string
	SystemPrompt    string
	ModelTier       v1.ModelTier

	// Orchestration membership, zero-valued for direct submissions.
	TaskIdentifier string
	DependsOn      []string
	WaitAfterDeps  float64
}

// ToAPI converts a task row to its wire representation.
func (t *Task) ToAPI() *v1.Task {
	out := &v1.Task{
		ID:              t.ID,
		Status:          t.Status,
		ModelTier:       t.ModelTier,
		WorkingDir:      t.WorkingDir,
		SystemPrompt:    t.SystemPrompt,
		ExecutionPrompt: t.ExecutionPrompt,
		SummaryLogPath:  t.SummaryLogPath,
		DetailedLogPath: t.DetailedLogPath,
		LastAction:      t.LastAction,
		FinalSummary:    t.FinalSummary,
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		EndedAt:         t.EndedAt,
		OrchestrationID: t.OrchestrationID,
		TaskIdentifier:  t.TaskIdentifier,
		DependsOn:       t.DependsOn,
		WaitAfterDeps:   t.WaitAfterDeps,
	}
	return out
}

// ToAPI converts an orchestration row to its wire representation.
func (o *Orchestration) ToAPI() *v1.Orchestration {
	return &v1.Orchestration{
		ID:             o.ID,
		Status:         o.Status,
		TotalTasks:     o.TotalTasks,
		CompletedTasks: o.CompletedTasks,
		FailedTasks:    o.FailedTasks,
		SkippedTasks:   o.SkippedTasks,
		CreatedAt:      o.CreatedAt,
		StartedAt:      o.StartedAt,
		EndedAt:        o.EndedAt,
	}
}
