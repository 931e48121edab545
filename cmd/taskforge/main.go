// Taskforge CLI — submit and observe fire-and-forget agent tasks over
// the service's HTTP API.
//
// Usage:
//
//	taskforge [--api-url URL] [--json] <command> [flags]
//
// Exit codes:
//
//	0  success
//	1  user error (bad arguments, unknown id)
//	2  server unreachable
//	3  server-reported failure
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/cli"
)

// version is set through ldflags at build time.
var version = "dev"

const (
	exitOK          = 0
	exitUserError   = 1
	exitUnreachable = 2
	exitServerError = 3
)

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "taskforge",
		Short:         "Taskforge CLI — fire-and-forget agent task runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://127.0.0.1:8788", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewStatusCmd(clientFn, outputFn),
		cli.NewListCmd(clientFn, outputFn),
		cli.NewCancelCmd(clientFn, outputFn),
		cli.NewLogsCmd(clientFn, outputFn),
		cli.NewOrchestrateCmd(clientFn, outputFn),
		cli.NewOrchestrationStatusCmd(clientFn, outputFn),
		cli.NewListOrchestrationsCmd(clientFn, outputFn),
		cli.NewCancelOrchestrationCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		cli.NewOutput(false).Error(err.Error())
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

// exitCodeFor maps an error to the CLI exit code contract. A 4xx from
// the server means the user asked for something wrong (unknown id,
// bad arguments); 5xx is a server-side failure.
func exitCodeFor(err error) int {
	if errors.Is(err, cli.ErrUnreachable) {
		return exitUnreachable
	}
	var serverErr *cli.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.StatusCode >= 400 && serverErr.StatusCode < 500 {
			return exitUserError
		}
		return exitServerError
	}
	return exitUserError
}
