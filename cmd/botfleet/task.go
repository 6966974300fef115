package main

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/cobra"

	"github.com/rahul/botfleet/internal/agent"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/store"
)

func newTaskCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks through their lifecycle",
	}
	cmd.AddCommand(
		newTaskCreateCommand(a),
		newTaskGetCommand(a),
		newTaskListCommand(a),
		newTaskMoveCommand(a, "start", lifecycle.StatusInProgress),
		newTaskMoveCommand(a, "complete", lifecycle.StatusCompleted),
		newTaskMoveCommand(a, "fail", lifecycle.StatusFailed),
		newTaskStatusCommand(a),
		newTaskAssignCommand(a),
		newTaskHistoryCommand(a),
		newTaskProcessCommand(a),
	)
	return cmd
}

var markupPolicy = bluemonday.StrictPolicy()

// stripMarkup turns HTML pasted from a page or ticket into plain text.
func stripMarkup(raw string) string {
	return strings.TrimSpace(html.UnescapeString(markupPolicy.Sanitize(raw)))
}

func addRequestFlags(cmd *cobra.Command, req *agent.Request) {
	cmd.Flags().IntVar(&req.Complexity, "complexity", 1, "task complexity, 1-10")
	cmd.Flags().IntVar(&req.Urgency, "urgency", 1, "task urgency, 1-10")
	cmd.Flags().IntVar(&req.Impact, "impact", 1, "task impact, 1-10")
}

func newTaskCreateCommand(a *app) *cobra.Command {
	var (
		agentLabel string
		process    bool
		stripHTML  bool
		req        agent.Request
	)
	cmd := &cobra.Command{
		Use:   "create <description...>",
		Short: "Submit a new task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			desc := strings.Join(args, " ")
			if stripHTML {
				desc = stripMarkup(desc)
			}
			out := cmd.OutOrStdout()

			if process {
				res, err := a.pipeline.Submit(ctx, desc, agentLabel, req)
				if err != nil {
					return err
				}
				printProcessResult(cmd, res)
				return nil
			}

			if err := a.roster.Validate(agentLabel); err != nil {
				return err
			}
			task, err := a.store.CreateTask(ctx, desc, agentLabel)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", green("created"), task.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentLabel, "agent", "a", "", "assign the task to a bot or sub-agent")
	cmd.Flags().BoolVarP(&process, "process", "p", false, "run the task through the bot pipeline right away")
	cmd.Flags().BoolVar(&stripHTML, "strip-html", false, "treat the description as HTML and keep only its text")
	addRequestFlags(cmd, &req)
	return cmd
}

func newTaskGetCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.store.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == "text" {
				printTask(cmd.OutOrStdout(), task)
				return nil
			}
			return writeFormatted(cmd.OutOrStdout(), format, task)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func newTaskListCommand(a *app) *cobra.Command {
	var (
		status     string
		agentLabel string
		desc       bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{Agent: agentLabel, Descending: desc, Limit: limit}
			if status != "" {
				st, err := lifecycle.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = &st
			}

			out := cmd.OutOrStdout()
			n := 0
			for task, err := range a.store.ListTasks(cmd.Context(), filter) {
				if err != nil {
					return err
				}
				printTaskLine(out, task)
				n++
			}
			if n == 0 {
				fmt.Fprintln(out, gray("no tasks"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only tasks in this status")
	cmd.Flags().StringVarP(&agentLabel, "agent", "a", "", "only tasks assigned to this agent")
	cmd.Flags().BoolVar(&desc, "desc", false, "newest first")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of tasks (0 = all)")
	return cmd
}

func newTaskMoveCommand(a *app, verb string, to lifecycle.Status) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: fmt.Sprintf("Move a task to %s", to),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateStatus(cmd, a, args[0], to)
		},
	}
}

func newTaskStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a task to any status the lifecycle allows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := lifecycle.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return updateStatus(cmd, a, args[0], to)
		},
	}
}

func updateStatus(cmd *cobra.Command, a *app, id string, to lifecycle.Status) error {
	task, err := a.store.UpdateTaskStatus(cmd.Context(), id, to)
	if err != nil {
		return err
	}
	printTaskLine(cmd.OutOrStdout(), task)
	return nil
}

func newTaskAssignCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <agent>",
		Short: "Hand a task to another bot or sub-agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.roster.Validate(args[1]); err != nil {
				return err
			}
			task, err := a.store.AssignAgent(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printTaskLine(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func newTaskHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the status audit trail of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, err := a.store.Transitions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(trail) == 0 {
				fmt.Fprintln(out, gray("no transitions"))
			}
			for _, tr := range trail {
				fmt.Fprintf(out, "%s  %s -> %s\n", gray(tr.At.Format(timeFormat)), statusText(tr.From), statusText(tr.To))
			}
			return nil
		},
	}
}

func newTaskProcessCommand(a *app) *cobra.Command {
	var req agent.Request
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Run a submitted task through the CEO, planner and execution bots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.pipeline.Process(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			printProcessResult(cmd, res)
			return nil
		},
	}
	addRequestFlags(cmd, &req)
	return cmd
}

func printProcessResult(cmd *cobra.Command, res agent.Result) {
	out := cmd.OutOrStdout()
	if !res.Policy.Allowed() {
		fmt.Fprintf(out, "%s %s\n", red("denied:"), res.Policy.Reason)
	}
	if res.Evaluation != nil {
		fmt.Fprintf(out, "%s priority %s (score %d)\n", bold(res.Evaluation.EvaluatedBy), res.Evaluation.Priority, res.Evaluation.Score)
	}
	if res.Plan != nil {
		fmt.Fprintf(out, "%s %d steps on %d sub-agents, ~%.0fh, risk %s\n",
			bold(res.Plan.PlannedBy), len(res.Plan.Steps), res.Plan.SubAgents, res.Plan.EstimatedHours, res.Plan.Risk)
	}
	if res.Outcome != nil {
		fmt.Fprintf(out, "%s %d/%d steps succeeded\n", bold(res.Plan.Executor), res.Outcome.Successful, res.Outcome.Total)
	}
	printTaskLine(out, res.Task)
}
