package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/internal/agent/stream"
	"github.com/taskforge/taskforge/internal/common/logger"
)

// writeFakeAgent writes a shell script that plays the agent. The
// invoker only cares about stdout lines, so a script is enough.
func writeFakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestInvokeStreamsMessagesAndReturnsSummary(t *testing.T) {
	agentPath := writeFakeAgent(t, `
echo '{"type":"assistant","text":"on it"}'
echo '{"type":"tool_use","tool_name":"bash","tool_input":{"command":"ls"}}'
echo '{"type":"tool_result","output":{"stdout":"ok"},"is_error":false}'
echo '{"type":"result","summary":"wrote the file"}'`)

	inv := NewInvoker(agentPath, logger.Default())

	var kinds []stream.Kind
	summary, err := inv.Invoke(context.Background(), Params{
		WorkingDir:      t.TempDir(),
		ExecutionPrompt: "do the thing in /tmp",
		OnMessage: func(msg stream.Message, raw string) {
			kinds = append(kinds, msg.Kind)
			assert.NotEmpty(t, raw)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wrote the file", summary)
	assert.Equal(t, []stream.Kind{
		stream.KindAssistantText,
		stream.KindToolUse,
		stream.KindToolResult,
		stream.KindFinal,
	}, kinds)
}

func TestInvokeMissingBinary(t *testing.T) {
	inv := NewInvoker("definitely-not-a-real-agent-binary", logger.Default())

	_, err := inv.Invoke(context.Background(), Params{WorkingDir: t.TempDir(), ExecutionPrompt: "p"})
	var invErr *InvokeError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, PhaseSpawn, invErr.Phase)
}

func TestInvokeNonZeroExitCarriesStderr(t *testing.T) {
	agentPath := writeFakeAgent(t, `
echo "fatal: could not reach backend" >&2
exit 7`)

	inv := NewInvoker(agentPath, logger.Default())
	_, err := inv.Invoke(context.Background(), Params{WorkingDir: t.TempDir(), ExecutionPrompt: "p"})

	var invErr *InvokeError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, PhaseProcess, invErr.Phase)
	assert.Equal(t, 7, invErr.ExitCode)
	require.NotEmpty(t, invErr.StderrTail)
	assert.Contains(t, invErr.StderrTail[0], "could not reach backend")
}

func TestInvokeCleanExitWithoutFinalIsConnectFailure(t *testing.T) {
	agentPath := writeFakeAgent(t, `echo '{"type":"assistant","text":"hi"}'`)

	inv := NewInvoker(agentPath, logger.Default())
	_, err := inv.Invoke(context.Background(), Params{WorkingDir: t.TempDir(), ExecutionPrompt: "p"})

	var invErr *InvokeError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, PhaseConnect, invErr.Phase)
}

func TestInvokeProtocolErrorStopsStream(t *testing.T) {
	agentPath := writeFakeAgent(t, `echo '{"type":"mystery"}'`)

	inv := NewInvoker(agentPath, logger.Default())
	_, err := inv.Invoke(context.Background(), Params{WorkingDir: t.TempDir(), ExecutionPrompt: "p"})

	var invErr *InvokeError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, PhaseStream, invErr.Phase)
	var decodeErr *stream.DecodeError
	assert.True(t, errors.As(invErr.Err, &decodeErr))
}

func TestInvokeTimeout(t *testing.T) {
	agentPath := writeFakeAgent(t, `sleep 30`)

	inv := NewInvoker(agentPath, logger.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inv.Invoke(ctx, Params{WorkingDir: t.TempDir(), ExecutionPrompt: "p"})
	require.Less(t, time.Since(start), 10*time.Second, "SIGTERM must end the child promptly")

	var invErr *InvokeError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, PhaseTimeout, invErr.Phase)
}

func TestDiagnoseMissingBinary(t *testing.T) {
	d := Diagnose("definitely-not-a-real-agent-binary")
	assert.False(t, d.BinaryFound)
	assert.Empty(t, d.BinaryPath)
}

func TestDiagnoseFindsBinary(t *testing.T) {
	d := Diagnose("sh")
	assert.True(t, d.BinaryFound)
	assert.NotEmpty(t, d.BinaryPath)
}
