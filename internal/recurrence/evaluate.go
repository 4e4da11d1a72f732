package recurrence

// IsDue reports whether r fires on d. It is the single source of truth for
// "does this rule fire on this date"; the generator never re-derives it.
//
// A rule missing its frequency-specific fields yields *InvalidRuleStateError
// rather than false.
func IsDue(r Rule, d Date) (bool, error) {
	if err := r.checkState(); err != nil {
		return false, err
	}
	if d.Before(r.StartDate) {
		return false, nil
	}
	switch r.Frequency {
	case Daily:
		return true, nil
	case Weekly:
		return d.Weekday() == *r.DayOfWeek, nil
	case Monthly:
		return d.Day == clampDay(*r.DayOfMonth, d), nil
	case Quarterly, HalfYearly:
		if d.Day != clampDay(*r.DayOfMonth, d) {
			return false, nil
		}
		months := MonthsBetween(r.StartDate, d)
		return months >= 0 && months%r.Interval == 0, nil
	case Yearly:
		return d.Month == r.StartDate.Month && d.Day == clampDay(r.StartDate.Day, d), nil
	}
	// checkState rejects unknown frequencies.
	return false, &InvalidRuleStateError{RuleID: r.ID, Field: "frequency"}
}

// InstanceDates derives the due and target dates of an occurrence on d.
// target is nil when the rule has no target offset.
func InstanceDates(r Rule, d Date) (due Date, target *Date, err error) {
	if err := r.checkState(); err != nil {
		return Date{}, nil, err
	}
	due = d.AddDays(r.DueDateOffset)
	if r.TargetDateOffset != nil {
		t := d.AddDays(*r.TargetDateOffset)
		target = &t
	}
	return due, target, nil
}

// Evaluate combines IsDue and InstanceDates. ok is false when r does not fire on d.
func Evaluate(r Rule, d Date) (inst Instance, ok bool, err error) {
	due, err := IsDue(r, d)
	if err != nil || !due {
		return Instance{}, false, err
	}
	dueDate, target, err := InstanceDates(r, d)
	if err != nil {
		return Instance{}, false, err
	}
	return Instance{
		RuleID:         r.ID,
		OccurrenceDate: d,
		DueDate:        dueDate,
		TargetDate:     target,
		IdempotencyKey: IdempotencyKey(r.ID, d),
	}, true, nil
}

// NextOccurrences lists up to n due dates on or after from. The search stops
// after horizon days (0 means one year per requested occurrence, plus one).
func NextOccurrences(r Rule, from Date, n, horizon int) ([]Date, error) {
	if err := r.checkState(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if horizon <= 0 {
		horizon = 366 * (n + 1)
	}
	d := from
	if d.Before(r.StartDate) {
		d = r.StartDate
	}
	out := make([]Date, 0, n)
	for i := 0; i < horizon && len(out) < n; i++ {
		ok, err := IsDue(r, d)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, d)
		}
		d = d.AddDays(1)
	}
	return out, nil
}

// clampDay maps a nominated day-of-month onto d's month, substituting the
// last day when the month is too short.
func clampDay(day int, d Date) int {
	if last := d.DaysInMonth(); day > last {
		return last
	}
	return day
}

func (r Rule) checkState() error {
	fail := func(field string) error { return &InvalidRuleStateError{RuleID: r.ID, Field: field} }
	if !r.Frequency.Valid() {
		return fail("frequency")
	}
	if r.StartDate.IsZero() {
		return fail("start_date")
	}
	if r.Interval != r.Frequency.Interval() {
		return fail("interval")
	}
	if r.Frequency.usesTimeOfDay() && r.TimeOfDay == nil {
		return fail("time_of_day")
	}
	if r.Frequency.usesDayOfWeek() && (r.DayOfWeek == nil || *r.DayOfWeek < 0 || *r.DayOfWeek > 6) {
		return fail("day_of_week")
	}
	if r.Frequency.usesDayOfMonth() && (r.DayOfMonth == nil || *r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		return fail("day_of_month")
	}
	if r.Frequency.usesAnchorMonth() && (r.AnchorMonth == nil || *r.AnchorMonth < 0 || *r.AnchorMonth > 11) {
		return fail("anchor_month")
	}
	if r.DueDateOffset < 0 {
		return fail("due_date_offset")
	}
	if r.TargetDateOffset != nil && *r.TargetDateOffset < 0 {
		return fail("target_date_offset")
	}
	return nil
}
