// Package classify maps agent invocation failures onto a closed kind
// set. Classification is a pure function over error values so it can
// be tested against synthetic inputs; environmental probing lives in
// the agent package and only decorates the debug context.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strings"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/agent/stream"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
)

// Kind is the closed failure kind set.
type Kind string

const (
	KindAgentMissing    Kind = "AgentMissing"
	KindAgentConnect    Kind = "AgentConnect"
	KindAgentProtocol   Kind = "AgentProtocol"
	KindAgentJSON       Kind = "AgentJson"
	KindAgentProcess    Kind = "AgentProcess"
	KindRateLimit       Kind = "RateLimit"
	KindInternalTimeout Kind = "InternalTimeout"
	KindAgentGeneric    Kind = "AgentGeneric"
	KindBreakerOpen     Kind = "BreakerOpen"
)

// Failure is the classified record. Classifying a Failure again
// returns it unchanged.
type Failure struct {
	Kind         Kind
	Transient    bool
	HTTPStatus   int
	Description  string
	RecoveryHint string
	DebugContext map[string]any
}

// Error implements the error interface with the user-visible form.
func (f *Failure) Error() string {
	return fmt.Sprintf("[%s] %s | hint: %s", f.Kind, f.Description, f.RecoveryHint)
}

// Exit codes the operating system uses for killed or timed-out
// processes; failures carrying them are worth retrying.
var transientExitCodes = map[int]bool{
	124: true, // timeout(1)
	137: true, // SIGKILL
	143: true, // SIGTERM
}

var (
	rateLimitPattern = regexp.MustCompile(`(?i)(\b429\b|rate.?limit|too many requests|overloaded)`)
	transientPattern = regexp.MustCompile(`(?i)(connection (reset|refused|closed)|timed? ?out|network|temporarily unavailable|try again|\b50[234]\b|\b529\b)`)
)

// Classify maps an invocation error to its failure kind. Pure: equal
// inputs produce equal records, and an already-classified error is
// returned as-is.
func Classify(err error) *Failure {
	var already *Failure
	if errors.As(err, &already) {
		return already
	}

	if errors.Is(err, breaker.ErrOpen) {
		return &Failure{
			Kind:         KindBreakerOpen,
			Transient:    false,
			HTTPStatus:   http.StatusServiceUnavailable,
			Description:  "circuit breaker is open for the agent dependency",
			RecoveryHint: "wait for the cooldown to elapse, then resubmit",
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{
			Kind:         KindInternalTimeout,
			Transient:    true,
			HTTPStatus:   http.StatusGatewayTimeout,
			Description:  "task timeout budget elapsed",
			RecoveryHint: "use a higher model tier or split the task into smaller steps",
		}
	}

	var invErr *agent.InvokeError
	if errors.As(err, &invErr) {
		return classifyInvoke(invErr)
	}

	return generic(err)
}

func classifyInvoke(invErr *agent.InvokeError) *Failure {
	debug := map[string]any{"phase": string(invErr.Phase)}
	if len(invErr.StderrTail) > 0 {
		debug["stderr_tail"] = invErr.StderrTail
	}
	stderrText := strings.Join(invErr.StderrTail, "\n")

	// An explicit rate-limit signal wins over the phase.
	if rateLimitPattern.MatchString(stderrText) || rateLimitPattern.MatchString(invErr.Err.Error()) {
		return &Failure{
			Kind:         KindRateLimit,
			Transient:    true,
			HTTPStatus:   http.StatusTooManyRequests,
			Description:  "agent backend reported a rate limit",
			RecoveryHint: "wait a minute before resubmitting; reduce concurrent tasks",
			DebugContext: debug,
		}
	}

	switch invErr.Phase {
	case agent.PhaseTimeout:
		return &Failure{
			Kind:         KindInternalTimeout,
			Transient:    true,
			HTTPStatus:   http.StatusGatewayTimeout,
			Description:  "task timeout budget elapsed",
			RecoveryHint: "use a higher model tier or split the task into smaller steps",
			DebugContext: debug,
		}

	case agent.PhaseSpawn:
		if errors.Is(invErr.Err, exec.ErrNotFound) {
			return &Failure{
				Kind:         KindAgentMissing,
				Transient:    false,
				HTTPStatus:   http.StatusServiceUnavailable,
				Description:  "agent binary not found in PATH",
				RecoveryHint: "install the agent CLI and make sure it is on the service's PATH",
				DebugContext: debug,
			}
		}
		return generic(invErr.Err)

	case agent.PhaseConnect:
		return &Failure{
			Kind:         KindAgentConnect,
			Transient:    true,
			HTTPStatus:   http.StatusBadGateway,
			Description:  "agent process started but its message stream broke off",
			RecoveryHint: "transient agent fault; the task is retried automatically",
			DebugContext: debug,
		}

	case agent.PhaseStream:
		return classifyStream(invErr, debug)

	case agent.PhaseProcess:
		debug["exit_code"] = invErr.ExitCode
		transient := transientExitCodes[invErr.ExitCode] || transientPattern.MatchString(stderrText)
		hint := "inspect the detailed log and the agent's stderr tail"
		if transient {
			hint = "transient agent exit; the task is retried automatically"
		}
		return &Failure{
			Kind:         KindAgentProcess,
			Transient:    transient,
			HTTPStatus:   http.StatusInternalServerError,
			Description:  fmt.Sprintf("agent exited with code %d", invErr.ExitCode),
			RecoveryHint: hint,
			DebugContext: debug,
		}
	}

	return generic(invErr.Err)
}

func classifyStream(invErr *agent.InvokeError, debug map[string]any) *Failure {
	var decodeErr *stream.DecodeError
	if errors.As(invErr.Err, &decodeErr) {
		debug["message_type"] = decodeErr.Type
		return &Failure{
			Kind:         KindAgentProtocol,
			Transient:    false,
			HTTPStatus:   http.StatusBadGateway,
			Description:  fmt.Sprintf("agent emitted an unparseable message of type %q", decodeErr.Type),
			RecoveryHint: "the agent's message format does not match this service; align their versions",
			DebugContext: debug,
		}
	}

	var framingErr *stream.FramingError
	if errors.As(invErr.Err, &framingErr) {
		truncated := framingErr.Truncated()
		debug["fragment_truncated"] = truncated
		hint := "the agent produced invalid JSON; align the agent version with this service"
		if truncated {
			hint = "the message stream was cut off mid-object; the task is retried automatically"
		}
		return &Failure{
			Kind:         KindAgentJSON,
			Transient:    truncated,
			HTTPStatus:   http.StatusBadGateway,
			Description:  "agent message failed JSON framing",
			RecoveryHint: hint,
			DebugContext: debug,
		}
	}

	// The pipe broke under us; IPC fault.
	return &Failure{
		Kind:         KindAgentConnect,
		Transient:    true,
		HTTPStatus:   http.StatusBadGateway,
		Description:  "reading the agent message stream failed",
		RecoveryHint: "transient agent fault; the task is retried automatically",
		DebugContext: debug,
	}
}

func generic(err error) *Failure {
	return &Failure{
		Kind:         KindAgentGeneric,
		Transient:    false,
		HTTPStatus:   http.StatusInternalServerError,
		Description:  firstLine(err.Error()),
		RecoveryHint: "inspect the detailed log for the full error context",
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// WithDiagnostics attaches the environment probe to the failure's
// debug context. Descriptive only: the kind decision is already made.
func WithDiagnostics(f *Failure, d agent.Diagnostics) *Failure {
	if f.DebugContext == nil {
		f.DebugContext = map[string]any{}
	}
	f.DebugContext["diagnostics"] = d
	return f
}
