package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taskcadence/internal/app"
	"taskcadence/internal/recurrence"
	"taskcadence/internal/storage"
)

func newRulesCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage recurring-task rules",
	}
	cmd.AddCommand(
		newRulesAddCmd(flags),
		newRulesEditCmd(flags),
		newRulesListCmd(flags),
		newRulesShowCmd(flags),
		newRulesToggleCmd(flags, "enable", true),
		newRulesToggleCmd(flags, "disable", false),
		newRulesDeleteCmd(flags),
	)
	return cmd
}

// ruleFlags maps command-line flags onto recurrence.Input. Month and
// weekday are taken in human form (1-12, mon..sun).
type ruleFlags struct {
	id           string
	frequency    string
	dayOfWeek    string
	dayOfMonth   int
	anchorMonth  int
	timeOfDay    string
	dueOffset    int
	targetOffset int
	title        string
	description  string
	client       string
	service      string
	assignee     string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.frequency, "frequency", "", "daily, weekly, monthly, quarterly, half_yearly or yearly")
	fs.StringVar(&f.dayOfWeek, "day-of-week", "", "weekday for weekly rules (mon..sun or 0-6, 0=Monday)")
	fs.IntVar(&f.dayOfMonth, "day-of-month", 0, "day 1-31; months without it use their last day")
	fs.IntVar(&f.anchorMonth, "anchor-month", 0, "first month of the cycle, 1-12")
	fs.StringVar(&f.timeOfDay, "time", "", "time of day HH:MM for daily rules")
	fs.IntVar(&f.dueOffset, "due-offset", 0, "days from occurrence to due date")
	fs.IntVar(&f.targetOffset, "target-offset", 0, "days from occurrence to internal target date")
	fs.StringVar(&f.title, "title", "", "task title")
	fs.StringVar(&f.description, "description", "", "task description")
	fs.StringVar(&f.client, "client", "", "client id copied to every task")
	fs.StringVar(&f.service, "service", "", "service id copied to every task")
	fs.StringVar(&f.assignee, "assignee", "", "assignee id copied to every task")
}

// apply overlays the flags the user actually set onto in.
func (f *ruleFlags) apply(cmd *cobra.Command, in *recurrence.Input) error {
	fs := cmd.Flags()
	if fs.Changed("frequency") {
		freq, err := recurrence.ParseFrequency(f.frequency)
		if err != nil {
			return err
		}
		in.Frequency = freq
		in.Interval = 0
	}
	if fs.Changed("day-of-week") {
		dow, err := parseWeekday(f.dayOfWeek)
		if err != nil {
			return err
		}
		in.DayOfWeek = recurrence.Int(dow)
	}
	if fs.Changed("day-of-month") {
		in.DayOfMonth = recurrence.Int(f.dayOfMonth)
	}
	if fs.Changed("anchor-month") {
		in.AnchorMonth = recurrence.Int(f.anchorMonth - 1)
	}
	if fs.Changed("time") {
		in.TimeOfDay = f.timeOfDay
	}
	if fs.Changed("due-offset") {
		in.DueDateOffset = f.dueOffset
	}
	if fs.Changed("target-offset") {
		in.TargetDateOffset = recurrence.Int(f.targetOffset)
	}
	if fs.Changed("title") {
		in.Template.Title = f.title
	}
	if fs.Changed("description") {
		in.Template.Description = f.description
	}
	if fs.Changed("client") {
		in.Template.ClientID = f.client
	}
	if fs.Changed("service") {
		in.Template.ServiceID = f.service
	}
	if fs.Changed("assignee") {
		in.Template.AssigneeID = f.assignee
	}
	return nil
}

var weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func parseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	for i, name := range weekdays {
		if strings.HasPrefix(s, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("--day-of-week: unknown weekday %q", s)
}

func newRulesAddCmd(flags *GlobalFlags) *cobra.Command {
	rf := &ruleFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Validate and store a new rule",
		Long: `Create a rule. The start date is derived from today and the
selected day/month, never entered directly.

Examples:
  taskcadence rules add --frequency monthly --day-of-month 31 --title "Payroll" --due-offset 5
  taskcadence rules add --frequency quarterly --day-of-month 1 --anchor-month 1 --title "VAT return"
  taskcadence rules add --frequency weekly --day-of-week mon --title "Timesheets"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rf.frequency == "" {
				return errors.New("--frequency is required")
			}
			in := recurrence.Input{ID: rf.id}
			if err := rf.apply(cmd, &in); err != nil {
				return err
			}
			if in.ID == "" {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				in.ID = id.String()
			}

			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			if _, err := core.Store.GetRule(cmd.Context(), in.ID); err == nil {
				return fmt.Errorf("rule %s already exists", in.ID)
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			r, err := recurrence.NewRule(in, core.Runner.Today())
			if err != nil {
				return err
			}
			if err := core.Store.PutRule(cmd.Context(), r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s: %s, starting %s\n", r.ID, r.Describe(), r.StartDate)
			return nil
		},
	}
	cmd.Flags().StringVar(&rf.id, "id", "", "rule id (default: generated)")
	rf.register(cmd)
	return cmd
}

func newRulesEditCmd(flags *GlobalFlags) *cobra.Command {
	rf := &ruleFlags{}
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a rule; unset flags keep their current value",
		Long: `Edit a rule. Changing the frequency or the day/month selection
re-derives the start date; other edits keep the existing cycle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			prev, err := core.Store.GetRule(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rule %s: %w", args[0], err)
			}
			in := inputFromRule(prev)
			if err := rf.apply(cmd, &in); err != nil {
				return err
			}
			next, err := recurrence.ApplyEdit(prev, in, core.Runner.Today())
			if err != nil {
				return err
			}
			if err := core.Store.PutRule(cmd.Context(), next); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "updated %s: %s\n", next.ID, next.Describe())
			if recurrence.AnchorChanged(prev, next) {
				fmt.Fprintf(w, "start date %s -> %s\n", prev.StartDate, next.StartDate)
			}
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}

// inputFromRule is the Input that would rebuild r, so edits only need to
// overlay the changed fields.
func inputFromRule(r recurrence.Rule) recurrence.Input {
	in := recurrence.Input{
		ID:               r.ID,
		Frequency:        r.Frequency,
		Interval:         r.Interval,
		DayOfWeek:        r.DayOfWeek,
		DayOfMonth:       r.DayOfMonth,
		AnchorMonth:      r.AnchorMonth,
		DueDateOffset:    r.DueDateOffset,
		TargetDateOffset: r.TargetDateOffset,
		Template:         r.Template,
	}
	if r.TimeOfDay != nil {
		in.TimeOfDay = r.TimeOfDay.String()
	}
	return in
}

type listFlags struct {
	activeOnly bool
	json       bool
}

func newRulesListCmd(flags *GlobalFlags) *cobra.Command {
	lf := &listFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			rules, err := core.Store.ListRules(cmd.Context(), lf.activeOnly)
			if err != nil {
				return err
			}
			if lf.json {
				return writeJSON(cmd.OutOrStdout(), rules)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTIVE\tTITLE\tSCHEDULE\tSTART")
			for _, r := range rules {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", r.ID, r.IsActive, r.Template.Title, r.Describe(), r.StartDate)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&lf.activeOnly, "active", false, "only active rules")
	cmd.Flags().BoolVar(&lf.json, "json", false, "output as JSON")
	return cmd
}

func newRulesShowCmd(flags *GlobalFlags) *cobra.Command {
	var next int
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one rule and its upcoming occurrences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			r, err := core.Store.GetRule(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rule %s: %w", args[0], err)
			}
			return printRule(cmd.OutOrStdout(), r, core.Runner.Today(), next)
		},
	}
	cmd.Flags().IntVar(&next, "next", 5, "number of upcoming occurrences to list")
	return cmd
}

func printRule(w io.Writer, r recurrence.Rule, today recurrence.Date, next int) error {
	fmt.Fprintf(w, "id:        %s\n", r.ID)
	fmt.Fprintf(w, "title:     %s\n", r.Template.Title)
	fmt.Fprintf(w, "schedule:  %s\n", r.Describe())
	fmt.Fprintf(w, "start:     %s\n", r.StartDate)
	fmt.Fprintf(w, "active:    %t\n", r.IsActive)
	fmt.Fprintf(w, "due after: %d days\n", r.DueDateOffset)
	if r.TargetDateOffset != nil {
		fmt.Fprintf(w, "target:    %d days\n", *r.TargetDateOffset)
	}
	if next <= 0 {
		return nil
	}
	dates, err := recurrence.NextOccurrences(r, today, next, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "next:")
	for _, d := range dates {
		due, _, err := recurrence.InstanceDates(r, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s (due %s)\n", d, due)
	}
	return nil
}

func newRulesToggleCmd(flags *GlobalFlags, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			r, err := core.Store.GetRule(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rule %s: %w", args[0], err)
			}
			if r.IsActive == active {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already %sd\n", r.ID, verb)
				return nil
			}
			r.IsActive = active
			if err := core.Store.PutRule(cmd.Context(), r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, r.ID)
			return nil
		},
	}
}

func newRulesDeleteCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a rule; generated instances are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := app.OpenCore(flags.Config)
			if err != nil {
				return err
			}
			defer core.Close()

			if err := core.Store.DeleteRule(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("rule %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
