package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sumire/agentdesk/internal/client"
	"github.com/sumire/agentdesk/internal/runtoken"
)

const defaultServer = "http://localhost:8080"

type app struct {
	server string
	out    io.Writer
}

func (a *app) client() *client.Client {
	return client.New(a.server, os.Getenv(runtoken.EnvVar))
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	server := os.Getenv("AGENTS_API_URL")
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Talk to the agent orchestration API",
		Long:          `agentctl claims tasks, records plan progress and relays clarification questions for autonomous coding agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.server, "server", server, "orchestration API base URL (env AGENTS_API_URL)")

	root.AddCommand(
		a.tasksCmd(),
		a.claimCmd(),
		a.statusCmd(),
		a.completeCmd(),
		a.planCmd(),
		a.updateCmd(),
		a.addCmd(),
		a.askCmd(),
		a.waitCmd(),
		a.showCmd(),
		a.answerCmd(),
	)
	return root
}

func taskFlag(cmd *cobra.Command, id *int64) {
	cmd.Flags().Int64Var(id, "task", 0, "task id")
	_ = cmd.MarkFlagRequired("task")
}
