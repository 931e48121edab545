// Package agent spawns the external coding agent as a child process
// and streams its structured message log.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/agent/stream"
	"github.com/taskforge/taskforge/internal/common/logger"
)

// stderrTailLines bounds how much stderr is retained for failure
// reports.
const stderrTailLines = 20

// maxLineBytes bounds a single agent message line.
const maxLineBytes = 4 << 20

// Phase names the stage an invocation failed in. The error classifier
// keys off it.
type Phase string

const (
	PhaseSpawn   Phase = "spawn"
	PhaseConnect Phase = "connect"
	PhaseStream  Phase = "stream"
	PhaseProcess Phase = "process"
	PhaseTimeout Phase = "timeout"
)

// InvokeError carries the full failure context of one agent
// invocation.
type InvokeError struct {
	Phase      Phase
	ExitCode   int
	StderrTail []string
	Err        error
}

func (e *InvokeError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("agent %s failure (exit %d): %v", e.Phase, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("agent %s failure: %v", e.Phase, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// Params are the inputs of one invocation.
type Params struct {
	WorkingDir      string
	SystemPrompt    string
	ExecutionPrompt string

	// OnMessage observes every decoded message in stream order. The
	// raw line is the exact serialized payload for the detailed log.
	OnMessage func(msg stream.Message, raw string)
}

// Invoker runs the external agent command. One Invoker is shared by
// all executors; each call spawns a fresh child process.
type Invoker struct {
	command string
	logger  *logger.Logger
}

// NewInvoker creates an invoker for the given agent binary.
func NewInvoker(command string, log *logger.Logger) *Invoker {
	return &Invoker{
		command: command,
		logger:  log.WithFields(zap.String("component", "agent-invoker")),
	}
}

// Command returns the configured agent binary name.
func (inv *Invoker) Command() string { return inv.command }

// Invoke spawns the agent for one attempt and streams its messages
// until the final summary. The context deadline is the per-task
// timeout budget; on expiry (or cancel) the child receives SIGTERM.
//
// The agent runs non-interactively: it is forbidden from prompting for
// confirmations, since nobody is attached to answer them.
func (inv *Invoker) Invoke(ctx context.Context, p Params) (string, error) {
	args := []string{
		"--output-format", "stream-json",
		"--no-confirm",
	}
	if p.SystemPrompt != "" {
		args = append(args, "--system-prompt", p.SystemPrompt)
	}
	args = append(args, "-p", p.ExecutionPrompt)

	cmd := exec.CommandContext(ctx, inv.command, args...)
	cmd.Dir = p.WorkingDir
	// The agent leads its own process group so SIGTERM also reaches any
	// helpers it spawned; otherwise they keep stdout open past the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &InvokeError{Phase: PhaseSpawn, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &InvokeError{Phase: PhaseSpawn, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return "", &InvokeError{Phase: PhaseSpawn, Err: err}
	}
	inv.logger.Debug("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("workdir", p.WorkingDir))

	tail := NewTailBuffer(stderrTailLines)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			tail.Add(scanner.Text())
		}
	}()

	var (
		finalSummary string
		sawFinal     bool
		streamErr    error
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		msg, err := stream.DecodeLine(line)
		if err != nil {
			streamErr = err
			break
		}
		if p.OnMessage != nil {
			p.OnMessage(msg, string(line))
		}
		if msg.Kind == stream.KindFinal {
			finalSummary = msg.Summary
			sawFinal = true
		}
	}
	if streamErr == nil {
		if err := scanner.Err(); err != nil {
			streamErr = err
		}
	}

	<-stderrDone
	waitErr := cmd.Wait()

	// A fired deadline or cancel wins over whatever the dying child
	// reported.
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &InvokeError{Phase: PhaseTimeout, StderrTail: tail.Lines(), Err: ctx.Err()}
		}
		return "", ctx.Err()
	}

	if streamErr != nil {
		return "", &InvokeError{Phase: PhaseStream, StderrTail: tail.Lines(), Err: streamErr}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &InvokeError{
			Phase:      PhaseProcess,
			ExitCode:   exitCode,
			StderrTail: tail.Lines(),
			Err:        waitErr,
		}
	}

	if !sawFinal {
		return "", &InvokeError{
			Phase:      PhaseConnect,
			StderrTail: tail.Lines(),
			Err:        errors.New("agent stream ended without a final summary"),
		}
	}

	return finalSummary, nil
}
