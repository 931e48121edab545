package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// strictPrompt builds a prompt of exactly n characters that carries a
// path fragment.
func strictPrompt(n int) string {
	base := "update the config loader in /srv/app/internal/config and add tests "
	for len(base) < n {
		base += "x"
	}
	return base[:n]
}

func validStrictRequest() *v1.CreateTaskRequest {
	return &v1.CreateTaskRequest{
		ExecutionPrompt: strictPrompt(200),
		WorkingDir:      "/srv/app",
		ModelTier:       v1.ModelTierBalanced,
	}
}

func TestValidateLoose(t *testing.T) {
	assert.Nil(t, validateLoose(&v1.CreateTaskRequest{ExecutionPrompt: "short is fine"}))

	err := validateLoose(&v1.CreateTaskRequest{ExecutionPrompt: "   "})
	require.NotNil(t, err)
	assert.Equal(t, "execution_prompt", err.Field)

	err = validateLoose(&v1.CreateTaskRequest{ExecutionPrompt: "p", WorkingDir: "relative/path"})
	require.NotNil(t, err)
	assert.Equal(t, "working_dir", err.Field)

	err = validateLoose(&v1.CreateTaskRequest{ExecutionPrompt: "p", ModelTier: "turbo"})
	require.NotNil(t, err)
	assert.Equal(t, "model_tier", err.Field)
}

func TestValidateStrictPromptLengthBoundary(t *testing.T) {
	req := validStrictRequest()

	req.ExecutionPrompt = strictPrompt(149)
	err := validateStrict(req)
	require.NotNil(t, err, "149 characters must be rejected")
	assert.Equal(t, "execution_prompt", err.Field)

	req.ExecutionPrompt = strictPrompt(150)
	assert.Nil(t, validateStrict(req), "150 characters must be accepted")
}

func TestValidateStrictRequiresPathFragment(t *testing.T) {
	req := validStrictRequest()
	req.ExecutionPrompt = strings.Repeat("no path fragment here ", 10)
	require.Greater(t, len(req.ExecutionPrompt), 150)

	err := validateStrict(req)
	require.NotNil(t, err)
	assert.Equal(t, "execution_prompt", err.Field)

	// A backslash satisfies the rule too.
	req.ExecutionPrompt = strings.Repeat("edit C:\\repo\\main.go carefully ", 6)
	assert.Nil(t, validateStrict(req))
}

func TestValidateStrictSystemPromptBounds(t *testing.T) {
	req := validStrictRequest()

	req.SystemPrompt = strings.Repeat("x", 74)
	err := validateStrict(req)
	require.NotNil(t, err)
	assert.Equal(t, "system_prompt", err.Field)

	req.SystemPrompt = strings.Repeat("x", 75)
	assert.Nil(t, validateStrict(req))

	req.SystemPrompt = strings.Repeat("x", 500)
	assert.Nil(t, validateStrict(req))

	req.SystemPrompt = strings.Repeat("x", 501)
	require.NotNil(t, validateStrict(req))
}

func TestValidateStrictRequiresWorkingDir(t *testing.T) {
	req := validStrictRequest()
	req.WorkingDir = ""

	err := validateStrict(req)
	require.NotNil(t, err)
	assert.Equal(t, "working_dir", err.Field)
}

func TestValidateOrchestration(t *testing.T) {
	err := validateOrchestration(&v1.CreateOrchestrationRequest{})
	require.NotNil(t, err)
	assert.Equal(t, "tasks", err.Field)

	err = validateOrchestration(&v1.CreateOrchestrationRequest{
		Tasks: []v1.OrchestrationTaskSpec{
			{TaskIdentifier: "A", ExecutionPrompt: "p", WaitAfterDeps: -1},
		},
	})
	require.NotNil(t, err)
	assert.Equal(t, "wait_after_dependencies", err.Field)

	assert.Nil(t, validateOrchestration(&v1.CreateOrchestrationRequest{
		Tasks: []v1.OrchestrationTaskSpec{
			{TaskIdentifier: "A", ExecutionPrompt: "p", WorkingDir: "/tmp"},
			{TaskIdentifier: "B", ExecutionPrompt: "p", DependsOn: []string{"A"}},
		},
	}))
}
