// Package commands implements the stepctl command line.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = NewRootCommand()

// NewRootCommand builds the stepctl command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stepctl",
		Short:         "Inspect, evaluate and publish step-scaling policies",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewEvaluateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewPublishCommand())
	return cmd
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
