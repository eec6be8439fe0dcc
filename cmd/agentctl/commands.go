package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// maxServerWait is the longest the API holds a single long-poll.
const maxServerWait = 30 * time.Second

func (a *app) tasksCmd() *cobra.Command {
	var repoID int64
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List claimable tasks of a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := a.client().ClaimableTasks(cmd.Context(), repoID)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(a.out, subtleStyle.Render("no claimable tasks"))
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(a.out, "#%d  [p%d]  %s\n", t.ID, t.Priority, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func (a *app) claimCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim a pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := a.client().Claim(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "claimed task #%d: %s\n", task.ID, task.Title)
			if task.Description != nil && *task.Description != "" {
				fmt.Fprintf(a.out, "\n%s\n", *task.Description)
			}
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var (
		taskID int64
		status string
		errMsg string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Set a task's claim status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := a.client().SetStatus(cmd.Context(), taskID, status, errMsg)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "task #%d is %s\n", task.ID, task.ClaimStatus)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().StringVar(&status, "status", "", "assigned, in_progress, completed or failed")
	cmd.Flags().StringVar(&errMsg, "error", "", "failure reason, required with --status failed")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func (a *app) completeCmd() *cobra.Command {
	var (
		taskID  int64
		summary string
		prURL   string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a task completed with a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := a.client().Complete(cmd.Context(), taskID, summary, prURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("task #%d completed", task.ID)))
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().StringVar(&summary, "summary", "", "what was done")
	cmd.Flags().StringVar(&prURL, "pr", "", "pull request URL")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "plan <step>...",
		Short: "Declare a task's plan, replacing any previous one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := a.client().CreatePlan(cmd.Context(), taskID, args)
			if err != nil {
				return err
			}
			renderSteps(a.out, steps)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var (
		taskID int64
		index  int
		status string
		note   string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the status of a plan step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			step, err := a.client().UpdateStep(cmd.Context(), taskID, index, status, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "step %d is %s\n", step.Index, step.Status)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().IntVar(&index, "step", 0, "step index")
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, done, failed or skipped")
	cmd.Flags().StringVar(&note, "note", "", "note attached to the step")
	_ = cmd.MarkFlagRequired("step")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var (
		taskID int64
		after  int
	)
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Insert a step after another one (-1 for the front)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := a.client().AddStep(cmd.Context(), taskID, strings.Join(args, " "), after)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "added step %d: %s\n", step.Index, step.Description)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().IntVar(&after, "after", 0, "index of the step to insert after")
	_ = cmd.MarkFlagRequired("after")
	return cmd
}

func (a *app) askCmd() *cobra.Command {
	var (
		taskID  int64
		choices []string
	)
	cmd := &cobra.Command{
		Use:   "ask <question> [--choices a,b]",
		Short: "Ask a human a question about the task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.client().Ask(cmd.Context(), taskID, strings.Join(args, " "), choices)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "question %d asked; run `agentctl wait --task %d` for the answer\n", q.ID, taskID)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().StringSliceVar(&choices, "choices", nil, "allowed answers, comma separated or repeated")
	return cmd
}

func (a *app) waitCmd() *cobra.Command {
	var (
		taskID  int64
		timeout int
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the answer to the task's question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client()
			deadline := time.Now().Add(time.Duration(timeout) * time.Second)
			for {
				window := min(time.Until(deadline), maxServerWait)
				res, err := c.WaitForAnswer(cmd.Context(), taskID, max(window, 0))
				if err != nil {
					return err
				}
				if res.Answered {
					fmt.Fprintln(a.out, *res.Answer)
					return nil
				}
				if res.Question == nil {
					return errors.New("task has no question to wait for")
				}
				if time.Until(deadline) <= 0 {
					return fmt.Errorf("no answer after %ds", timeout)
				}
			}
		},
	}
	taskFlag(cmd, &taskID)
	cmd.Flags().IntVar(&timeout, "timeout", 600, "seconds to wait in total")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a task's plan and open question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.client().Progress(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			renderProgress(a.out, p)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	return cmd
}

func (a *app) answerCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "answer <answer>",
		Short: "Answer a task's open question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.client().Answer(cmd.Context(), taskID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "answered question %d\n", q.ID)
			return nil
		},
	}
	taskFlag(cmd, &taskID)
	return cmd
}
