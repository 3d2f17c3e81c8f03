package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/trivia-backend/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:           "quizctl",
		Short:         "Operator tooling for the trivia backend",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
		},
	}

	loadConfig := func() *config.Config { return cfg }
	cmd.AddCommand(newMigrateCmd(loadConfig))
	cmd.AddCommand(newCreateUserCmd(loadConfig))
	return cmd
}
