package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"taskcadence/internal/app"
	"taskcadence/internal/recurrence"
	"taskcadence/internal/runner"
)

type runFlags struct {
	date string
}

func newRunCmd(flags *GlobalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate the tasks due on one day (default today)",
		Long: `Evaluate every active rule for one check date and record the
instances that are due. Running twice for the same day creates nothing new.

Examples:
  taskcadence run
  taskcadence run --date 2024-04-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			day := core.Runner.Today()
			if rf.date != "" {
				if day, err = recurrence.ParseDate(rf.date); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			rep, err := core.Runner.RunFor(cmd.Context(), day)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&rf.date, "date", "", "check date YYYY-MM-DD")
	return cmd
}

type backfillFlags struct {
	from, to string
}

func newBackfillCmd(flags *GlobalFlags) *cobra.Command {
	bf := &backfillFlags{}
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate tasks for every day in a date range",
		Long: `Run the generator once per day from --from to --to inclusive, for
example after the daemon was down. Days already generated are skipped.

Examples:
  taskcadence backfill --from 2024-03-01 --to 2024-03-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := recurrence.ParseDate(bf.from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := recurrence.ParseDate(bf.to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			reps, err := core.Runner.Backfill(cmd.Context(), from, to)
			w := cmd.OutOrStdout()
			var created, dup, failed int
			for _, rep := range reps {
				if rep.Summary.Created > 0 || rep.Summary.Failed > 0 {
					printReport(w, rep)
				}
				created += rep.Summary.Created
				dup += rep.Summary.Duplicates
				failed += rep.Summary.Failed
			}
			fmt.Fprintf(w, "backfill %s..%s: %d days, created %d, duplicates %d, failed %d\n", from, to, len(reps), created, dup, failed)
			return err
		},
	}
	cmd.Flags().StringVar(&bf.from, "from", "", "first check date YYYY-MM-DD")
	cmd.Flags().StringVar(&bf.to, "to", "", "last check date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printReport(w io.Writer, rep runner.Report) {
	s := rep.Summary
	fmt.Fprintf(w, "%s: created %d, duplicates %d, failed %d (%d rules, %d inactive)\n",
		s.CheckDate, s.Created, s.Duplicates, s.Failed, s.Total, s.Inactive)
	for _, inst := range rep.Instances {
		fmt.Fprintf(w, "  + %s due %s", inst.RuleID, inst.DueDate)
		if inst.TargetDate != nil {
			fmt.Fprintf(w, " target %s", inst.TargetDate)
		}
		fmt.Fprintln(w)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  ! %s\n", f.Error())
	}
}
