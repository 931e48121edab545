package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/agent/stream"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
)

func TestClassifyAgentMissing(t *testing.T) {
	err := &agent.InvokeError{
		Phase: agent.PhaseSpawn,
		Err:   &exec.Error{Name: "claude", Err: exec.ErrNotFound},
	}
	f := Classify(err)
	assert.Equal(t, KindAgentMissing, f.Kind)
	assert.False(t, f.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, f.HTTPStatus)
}

func TestClassifyConnect(t *testing.T) {
	err := &agent.InvokeError{
		Phase: agent.PhaseConnect,
		Err:   errors.New("agent stream ended without a final summary"),
	}
	f := Classify(err)
	assert.Equal(t, KindAgentConnect, f.Kind)
	assert.True(t, f.Transient)
}

func TestClassifyProtocol(t *testing.T) {
	err := &agent.InvokeError{
		Phase: agent.PhaseStream,
		Err:   &stream.DecodeError{Type: "telemetry"},
	}
	f := Classify(err)
	assert.Equal(t, KindAgentProtocol, f.Kind)
	assert.False(t, f.Transient)
}

func TestClassifyJSONTruncatedIsTransient(t *testing.T) {
	err := &agent.InvokeError{
		Phase: agent.PhaseStream,
		Err:   &stream.FramingError{Fragment: `{"type":"tool_use","tool_na`, Err: errors.New("unexpected end of JSON input")},
	}
	f := Classify(err)
	assert.Equal(t, KindAgentJSON, f.Kind)
	assert.True(t, f.Transient, "a cut-off fragment is worth a retry")
}

func TestClassifyJSONCompleteGarbageIsPermanent(t *testing.T) {
	err := &agent.InvokeError{
		Phase: agent.PhaseStream,
		Err:   &stream.FramingError{Fragment: `not json`, Err: errors.New("invalid character 'o'")},
	}
	f := Classify(err)
	assert.Equal(t, KindAgentJSON, f.Kind)
	assert.False(t, f.Transient)
}

func TestClassifyProcessExitCodes(t *testing.T) {
	tests := []struct {
		exitCode  int
		transient bool
	}{
		{124, true},  // timeout(1)
		{137, true},  // SIGKILL
		{143, true},  // SIGTERM
		{1, false},
		{2, false},
	}
	for _, tt := range tests {
		err := &agent.InvokeError{
			Phase:    agent.PhaseProcess,
			ExitCode: tt.exitCode,
			Err:      fmt.Errorf("exit status %d", tt.exitCode),
		}
		f := Classify(err)
		assert.Equal(t, KindAgentProcess, f.Kind, "exit %d", tt.exitCode)
		assert.Equal(t, tt.transient, f.Transient, "exit %d", tt.exitCode)
	}
}

func TestClassifyProcessNetworkStderrIsTransient(t *testing.T) {
	err := &agent.InvokeError{
		Phase:      agent.PhaseProcess,
		ExitCode:   1,
		StderrTail: []string{"error: connection reset by peer"},
		Err:        errors.New("exit status 1"),
	}
	f := Classify(err)
	assert.Equal(t, KindAgentProcess, f.Kind)
	assert.True(t, f.Transient)
}

func TestClassifyRateLimitWinsOverPhase(t *testing.T) {
	err := &agent.InvokeError{
		Phase:      agent.PhaseProcess,
		ExitCode:   1,
		StderrTail: []string{"HTTP 429: rate limit exceeded"},
		Err:        errors.New("exit status 1"),
	}
	f := Classify(err)
	assert.Equal(t, KindRateLimit, f.Kind)
	assert.True(t, f.Transient)
	assert.Equal(t, http.StatusTooManyRequests, f.HTTPStatus)
}

func TestClassifyInternalTimeout(t *testing.T) {
	f := Classify(context.DeadlineExceeded)
	assert.Equal(t, KindInternalTimeout, f.Kind)
	assert.True(t, f.Transient)

	viaPhase := Classify(&agent.InvokeError{Phase: agent.PhaseTimeout, Err: context.DeadlineExceeded})
	assert.Equal(t, KindInternalTimeout, viaPhase.Kind)
}

func TestClassifyBreakerOpen(t *testing.T) {
	f := Classify(fmt.Errorf("wrapped: %w", breaker.ErrOpen))
	assert.Equal(t, KindBreakerOpen, f.Kind)
	assert.False(t, f.Transient)
}

func TestClassifyGenericFallback(t *testing.T) {
	f := Classify(errors.New("something odd\nwith a second line"))
	assert.Equal(t, KindAgentGeneric, f.Kind)
	assert.False(t, f.Transient)
	assert.Equal(t, "something odd", f.Description, "description is the first line only")
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(&agent.InvokeError{
		Phase:    agent.PhaseProcess,
		ExitCode: 137,
		Err:      errors.New("exit status 137"),
	})
	second := Classify(first)
	assert.Same(t, first, second, "classifying a classified record returns it unchanged")
}

func TestFailureErrorFormat(t *testing.T) {
	f := &Failure{
		Kind:         KindAgentMissing,
		Description:  "agent binary not found in PATH",
		RecoveryHint: "install the agent CLI",
	}
	assert.Equal(t, "[AgentMissing] agent binary not found in PATH | hint: install the agent CLI", f.Error())
}

func TestWithDiagnosticsDoesNotChangeKind(t *testing.T) {
	f := Classify(errors.New("boom"))
	kind := f.Kind
	WithDiagnostics(f, agent.Diagnose("definitely-not-a-real-binary"))
	assert.Equal(t, kind, f.Kind)
	assert.Contains(t, f.DebugContext, "diagnostics")
}
