package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// NewOrchestrateCmd submits a batch of tasks with dependencies from a
// JSON spec file ('-' reads stdin).
func NewOrchestrateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate <spec-file>",
		Short: "Submit a task group with dependencies",
		Long: `Submit a batch of tasks with declared dependencies.

The spec file is JSON:

  {
    "tasks": [
      {"task_identifier": "build", "execution_prompt": "...", "working_dir": "/repo"},
      {"task_identifier": "test", "depends_on": ["build"], "execution_prompt": "...", "working_dir": "/repo"}
    ]
  }

Admission is all-or-nothing: an unknown dependency, a duplicate
identifier, or a cycle rejects the whole batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readSpec(args[0])
			if err != nil {
				return err
			}

			var req v1.CreateOrchestrationRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("invalid spec file: %w", err)
			}

			resp, err := clientFn().CreateOrchestration(&req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("orchestration %d submitted with %d tasks", resp.ID, len(resp.Tasks)))
			rows := make([][]string, len(resp.Tasks))
			for i, t := range resp.Tasks {
				rows[i] = []string{
					strconv.FormatInt(t.ID, 10),
					t.TaskIdentifier,
					string(t.Status),
					fmt.Sprintf("%v", t.DependsOn),
				}
			}
			out.Print([]string{"ID", "IDENTIFIER", "STATUS", "DEPENDS_ON"}, rows, resp)
			return nil
		},
	}
}

// NewOrchestrationStatusCmd shows one orchestration with members.
func NewOrchestrationStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestration-status <orchestration-id>",
		Short: "Show an orchestration and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			orch, err := clientFn().GetOrchestration(id)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("orchestration %d: %s (%d total, %d completed, %d failed, %d skipped)",
				orch.ID, orch.Status, orch.TotalTasks, orch.CompletedTasks, orch.FailedTasks, orch.SkippedTasks))

			rows := make([][]string, len(orch.Tasks))
			for i, t := range orch.Tasks {
				rows[i] = []string{
					strconv.FormatInt(t.ID, 10),
					t.TaskIdentifier,
					string(t.Status),
					fmt.Sprintf("%v", t.DependsOn),
				}
			}
			out.Print([]string{"ID", "IDENTIFIER", "STATUS", "DEPENDS_ON"}, rows, orch)
			return nil
		},
	}
}

// NewListOrchestrationsCmd lists all orchestrations.
func NewListOrchestrationsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list-orchestrations",
		Short: "List orchestrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchs, err := clientFn().ListOrchestrations()
			if err != nil {
				return err
			}

			rows := make([][]string, len(orchs))
			for i, o := range orchs {
				rows[i] = []string{
					strconv.FormatInt(o.ID, 10),
					string(o.Status),
					strconv.Itoa(o.TotalTasks),
					strconv.Itoa(o.CompletedTasks),
					strconv.Itoa(o.FailedTasks),
					strconv.Itoa(o.SkippedTasks),
					o.CreatedAt.Local().Format(time.DateTime),
				}
			}
			outputFn().Print(
				[]string{"ID", "STATUS", "TOTAL", "COMPLETED", "FAILED", "SKIPPED", "CREATED"},
				rows, orchs)
			return nil
		},
	}
}

// NewCancelOrchestrationCmd cancels every non-terminal member.
func NewCancelOrchestrationCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-orchestration <orchestration-id>",
		Short: "Cancel an orchestration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			orch, err := clientFn().CancelOrchestration(id)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("orchestration %d: %s", orch.ID, orch.Status))
			return nil
		},
	}
}

func readSpec(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
