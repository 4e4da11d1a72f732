package recurrence

import "time"

// ResolveAnchor turns a declarative selection ("the 28th of January",
// "every Monday") into the start_date stored on the rule.
//
//   - daily, weekly, monthly: today. The anchor is only a floor; matching
//     uses day_of_week / day_of_month directly.
//   - yearly: (anchor_month, day_of_month) in today's year, moved to the next
//     year when it is already behind today.
//   - quarterly, half_yearly: (anchor_month, day_of_month) in today's year
//     even when already past. Matching is a month-distance modulo the
//     interval, so only the phase of the anchor matters.
//
// Invalid month/day pairs roll forward like the calendar does (Feb 30 is
// Mar 2 in a common year, Mar 1 in a leap year).
func ResolveAnchor(freq Frequency, dayOfMonth, anchorMonth, dayOfWeek *int, today Date) (Date, error) {
	if today.IsZero() {
		return Date{}, invalid("today", "required")
	}
	switch freq {
	case Daily, Monthly:
		return today, nil
	case Weekly:
		if dayOfWeek == nil {
			return Date{}, invalid("day_of_week", "required for %s rules", freq)
		}
		return today, nil
	case Quarterly, HalfYearly, Yearly:
		if dayOfMonth == nil {
			return Date{}, invalid("day_of_month", "required for %s rules", freq)
		}
		if anchorMonth == nil {
			return Date{}, invalid("anchor_month", "required for %s rules", freq)
		}
		month := time.Month(*anchorMonth + 1)
		candidate := NewDate(today.Year, month, *dayOfMonth)
		if freq == Yearly && candidate.Before(today) {
			candidate = NewDate(today.Year+1, month, *dayOfMonth)
		}
		return candidate, nil
	default:
		return Date{}, invalid("frequency", "unknown frequency %q", freq)
	}
}
