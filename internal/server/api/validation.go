package api

import (
	"path/filepath"
	"strings"

	"github.com/taskforge/taskforge/internal/common/errors"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// Strict surface bounds. Machine clients must hand over enough context
// for the agent to act without a human in the loop, hence the floor on
// prompt length and the required path fragment.
const (
	strictMinExecutionPrompt = 150
	strictMinSystemPrompt    = 75
	strictMaxSystemPrompt    = 500
)

// validateLoose applies the human-surface rules: defaults fill the
// gaps, only structurally broken input is rejected.
func validateLoose(req *v1.CreateTaskRequest) *errors.Error {
	if strings.TrimSpace(req.ExecutionPrompt) == "" {
		return errors.InvalidField("execution_prompt", "must not be empty")
	}
	if req.WorkingDir != "" && !filepath.IsAbs(req.WorkingDir) {
		return errors.InvalidField("working_dir", "must be an absolute path")
	}
	if req.ModelTier != "" && !v1.ValidModelTier(req.ModelTier) {
		return errors.InvalidField("model_tier", "must be one of fast, balanced, deep")
	}
	return nil
}

// validateStrict applies the machine-surface rules on top of the loose
// ones.
func validateStrict(req *v1.CreateTaskRequest) *errors.Error {
	if err := validateLoose(req); err != nil {
		return err
	}
	if len(req.ExecutionPrompt) < strictMinExecutionPrompt {
		return errors.InvalidField("execution_prompt", "must be at least 150 characters")
	}
	if !strings.ContainsAny(req.ExecutionPrompt, `/\`) {
		return errors.InvalidField("execution_prompt", "must reference at least one path (contain '/' or '\\')")
	}
	if req.SystemPrompt != "" {
		if len(req.SystemPrompt) < strictMinSystemPrompt || len(req.SystemPrompt) > strictMaxSystemPrompt {
			return errors.InvalidField("system_prompt", "must be between 75 and 500 characters")
		}
	}
	if req.WorkingDir == "" {
		return errors.InvalidField("working_dir", "is required")
	}
	return nil
}

// validateOrchestration applies the batch rules that do not need the
// store; identifier and cycle checks run at admission in the store.
func validateOrchestration(req *v1.CreateOrchestrationRequest) *errors.Error {
	if len(req.Tasks) == 0 {
		return errors.InvalidField("tasks", "must contain at least one task")
	}
	for _, spec := range req.Tasks {
		if strings.TrimSpace(spec.TaskIdentifier) == "" {
			return errors.InvalidField("task_identifier", "must not be empty")
		}
		if strings.TrimSpace(spec.ExecutionPrompt) == "" {
			return errors.InvalidField("execution_prompt", "must not be empty")
		}
		if spec.WaitAfterDeps < 0 {
			return errors.InvalidField("wait_after_dependencies", "must not be negative")
		}
		if spec.WorkingDir != "" && !filepath.IsAbs(spec.WorkingDir) {
			return errors.InvalidField("working_dir", "must be an absolute path")
		}
		if spec.ModelTier != "" && !v1.ValidModelTier(spec.ModelTier) {
			return errors.InvalidField("model_tier", "must be one of fast, balanced, deep")
		}
	}
	return nil
}
