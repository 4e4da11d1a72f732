package recurrence

import (
	"fmt"
	"time"
)

// ApplyEdit rebuilds prev from an edited input. The anchor is re-resolved
// against today only when the frequency or one of the anchor selections
// (day_of_week, day_of_month, anchor_month) changed; otherwise the stored
// start_date is kept so the rule's phase does not drift on cosmetic edits.
// ID and active flag are carried over from prev.
func ApplyEdit(prev Rule, in Input, today Date) (Rule, error) {
	in.ID = prev.ID
	next, err := NewRule(in, today)
	if err != nil {
		return Rule{}, err
	}
	if sameAnchorInputs(prev, next) && !prev.StartDate.IsZero() {
		next.StartDate = prev.StartDate
	}
	next.IsActive = prev.IsActive
	return next, nil
}

// AnchorChanged reports whether moving from prev to next forces the anchor
// to be re-resolved.
func AnchorChanged(prev, next Rule) bool { return !sameAnchorInputs(prev, next) }

func sameAnchorInputs(a, b Rule) bool {
	return a.Frequency == b.Frequency &&
		eqInt(a.DayOfWeek, b.DayOfWeek) &&
		eqInt(a.DayOfMonth, b.DayOfMonth) &&
		eqInt(a.AnchorMonth, b.AnchorMonth)
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Describe renders the schedule the way the template list shows it.
func (r Rule) Describe() string {
	if err := r.checkState(); err != nil {
		return fmt.Sprintf("invalid %s rule", r.Frequency)
	}
	switch r.Frequency {
	case Daily:
		return "every day at " + r.TimeOfDay.String()
	case Weekly:
		return "every " + weekdayNames[*r.DayOfWeek]
	case Monthly:
		return "every month on day " + dayClause(*r.DayOfMonth)
	case Quarterly, HalfYearly:
		return fmt.Sprintf("every %d months on day %s, starting %s %d",
			r.Interval, dayClause(*r.DayOfMonth), r.StartDate.Month, r.StartDate.Year)
	case Yearly:
		return fmt.Sprintf("every year on %d %s", r.StartDate.Day, r.StartDate.Month)
	}
	return string(r.Frequency)
}

func dayClause(day int) string {
	if day > 28 {
		return fmt.Sprintf("%d (last day in shorter months)", day)
	}
	return fmt.Sprint(day)
}

// MonthName maps a zero-based anchor month to its English name.
func MonthName(anchorMonth int) string {
	if anchorMonth < 0 || anchorMonth > 11 {
		return ""
	}
	return time.Month(anchorMonth + 1).String()
}
