// Package cli provides the taskcadence command-line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	Config string
}

// Execute runs the root command with the process arguments.
func Execute(ctx context.Context) error {
	return newRootCmd(&GlobalFlags{}).ExecuteContext(ctx)
}

func newRootCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskcadence",
		Short: "Generate recurring tasks from schedule rules",
		Long: `taskcadence turns recurring-task rules (daily, weekly, monthly,
quarterly, half-yearly, yearly) into concrete task instances, at most once
per rule and day.

Run "taskcadence serve" as a daemon to generate every day, or use "run"
and "backfill" for one-off batches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.Config, "config", "./config.yaml", "path to config file (YAML or JSON)")

	cmd.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newBackfillCmd(flags),
		newRulesCmd(flags),
		newInstancesCmd(flags),
	)
	return cmd
}
