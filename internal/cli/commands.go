package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// watchInterval is the polling cadence of run --watch. The server is
// polling-friendly by design.
const watchInterval = 2 * time.Second

// NewRunCmd submits a task.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var dir string
	var systemPrompt string
	var tier string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <execution-prompt>",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.CreateTask(&v1.CreateTaskRequest{
				ExecutionPrompt: args[0],
				WorkingDir:      dir,
				SystemPrompt:    systemPrompt,
				ModelTier:       v1.ModelTier(tier),
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("task %d submitted (%s)", resp.ID, resp.Status))
			if !watch {
				out.Print(
					[]string{"ID", "STATUS"},
					[][]string{{strconv.FormatInt(resp.ID, 10), string(resp.Status)}},
					resp,
				)
				return nil
			}
			return watchTask(client, out, resp.ID)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the agent (absolute path)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Optional system prompt")
	cmd.Flags().StringVar(&tier, "tier", "", "Model tier (fast, balanced, deep)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Block until the task is terminal, tailing the summary log")

	return cmd
}

// watchTask polls the task and prints new summary-log lines until it
// reaches a terminal state.
func watchTask(client *Client, out *Output, id int64) error {
	printed := 0
	for {
		task, err := client.GetTask(id)
		if err != nil {
			return err
		}

		lines, err := client.TaskLogs(id, false, 0)
		if err == nil && len(lines) > printed {
			for _, line := range lines[printed:] {
				out.Line(line)
			}
			printed = len(lines)
		}

		if task.Status.IsTerminal() {
			switch {
			case task.FinalSummary != nil && *task.FinalSummary != "":
				out.Success(fmt.Sprintf("task %d %s: %s", id, task.Status, *task.FinalSummary))
			case task.ErrorMessage != nil && *task.ErrorMessage != "":
				out.Success(fmt.Sprintf("task %d %s: %s", id, task.Status, *task.ErrorMessage))
			default:
				out.Success(fmt.Sprintf("task %d %s", id, task.Status))
			}
			return nil
		}
		time.Sleep(watchInterval)
	}
}

// NewStatusCmd shows one task.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, err := clientFn().GetTask(id)
			if err != nil {
				return err
			}
			outputFn().Print(taskHeaders, [][]string{taskRow(task)}, task)
			return nil
		},
	}
}

// NewListCmd lists tasks.
func NewListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(status, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			outputFn().Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

// NewCancelCmd cancels a task.
func NewCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := clientFn().CancelTask(id)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("task %d: %s", resp.ID, resp.Status))
			return nil
		},
	}
}

// NewLogsCmd prints the tail of a task's log.
func NewLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var detailed bool
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a task's log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			lines, err := clientFn().TaskLogs(id, detailed, tail)
			if err != nil {
				return err
			}
			out := outputFn()
			for _, line := range lines {
				out.Line(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show the detailed log instead of the summary log")
	cmd.Flags().IntVar(&tail, "tail", 50, "Number of lines from the end")

	return cmd
}

var taskHeaders = []string{"ID", "STATUS", "TIER", "DIR", "LAST_ACTION", "CREATED"}

func taskRow(t *v1.Task) []string {
	last := t.LastAction
	if len(last) > 60 {
		last = last[:60] + "..."
	}
	return []string{
		strconv.FormatInt(t.ID, 10),
		string(t.Status),
		string(t.ModelTier),
		t.WorkingDir,
		last,
		t.CreatedAt.Local().Format(time.DateTime),
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: expected a positive integer", raw)
	}
	return id, nil
}
