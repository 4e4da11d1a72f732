package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskcadence/internal/app"
)

func newInstancesCmd(flags *GlobalFlags) *cobra.Command {
	var (
		ruleID string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List generated task instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			insts, err := core.Store.ListInstances(cmd.Context(), ruleID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), insts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RULE\tOCCURRENCE\tDUE\tTARGET")
			for _, in := range insts {
				target := "-"
				if in.TargetDate != nil {
					target = in.TargetDate.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", in.RuleID, in.OccurrenceDate, in.DueDate, target)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "only instances of this rule")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
