package recurrence

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is the informational HH:MM attached to daily rules.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Template is the task data copied onto every instance by the task-creation
// sink. The scheduling core never looks at it.
type Template struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
}

// Rule is an immutable description of a periodic schedule with its resolved
// anchor. Build rules with NewRule; a Rule literal skips validation.
type Rule struct {
	ID        string    `json:"id"`
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`

	TimeOfDay   *TimeOfDay `json:"time_of_day,omitempty"`
	DayOfWeek   *int       `json:"day_of_week,omitempty"`  // 0=Monday
	DayOfMonth  *int       `json:"day_of_month,omitempty"` // 1..31
	AnchorMonth *int       `json:"anchor_month,omitempty"` // 0=January

	StartDate Date `json:"start_date"`

	DueDateOffset    int  `json:"due_date_offset"`
	TargetDateOffset *int `json:"target_date_offset,omitempty"`

	IsActive bool     `json:"is_active"`
	Template Template `json:"template"`
}

// Input is what a user submits when saving a recurring-task template.
// Month and day selections are declarative; StartDate is always derived.
type Input struct {
	ID        string
	Frequency Frequency
	// Interval is normally left zero and derived from Frequency.
	Interval int

	TimeOfDay   string
	DayOfWeek   *int
	DayOfMonth  *int
	AnchorMonth *int

	DueDateOffset    int
	TargetDateOffset *int

	Template Template
}

// Int returns a pointer to v, for filling optional rule fields.
func Int(v int) *int { return &v }

// NewRule validates in, resolves its anchor against today and returns an
// active rule. Fields that do not apply to the frequency are dropped.
func NewRule(in Input, today Date) (Rule, error) {
	r := Rule{
		ID:               strings.TrimSpace(in.ID),
		Frequency:        in.Frequency,
		Interval:         in.Interval,
		DueDateOffset:    in.DueDateOffset,
		TargetDateOffset: copyInt(in.TargetDateOffset),
		IsActive:         true,
		Template:         in.Template,
	}
	if !r.Frequency.Valid() {
		return Rule{}, invalid("frequency", "unknown frequency %q", in.Frequency)
	}
	if r.Interval == 0 {
		r.Interval = r.Frequency.Interval()
	}
	if r.Frequency.usesTimeOfDay() {
		if strings.TrimSpace(in.TimeOfDay) == "" {
			return Rule{}, invalid("time_of_day", "required for %s rules", r.Frequency)
		}
		tod, err := ParseTimeOfDay(in.TimeOfDay)
		if err != nil {
			return Rule{}, invalid("time_of_day", "%v", err)
		}
		r.TimeOfDay = &tod
	}
	if r.Frequency.usesDayOfWeek() {
		r.DayOfWeek = copyInt(in.DayOfWeek)
	}
	if r.Frequency.usesDayOfMonth() {
		r.DayOfMonth = copyInt(in.DayOfMonth)
	}
	if r.Frequency.usesAnchorMonth() {
		r.AnchorMonth = copyInt(in.AnchorMonth)
	}
	if err := r.validateFields(); err != nil {
		return Rule{}, err
	}

	start, err := ResolveAnchor(r.Frequency, r.DayOfMonth, r.AnchorMonth, r.DayOfWeek, today)
	if err != nil {
		return Rule{}, err
	}
	r.StartDate = start
	return r, nil
}

// Validate checks a complete rule, including its resolved anchor.
// Stores call it before persisting.
func (r Rule) Validate() error {
	if err := r.validateFields(); err != nil {
		return err
	}
	if r.StartDate.IsZero() {
		return invalid("start_date", "required")
	}
	if NewDate(r.StartDate.Year, r.StartDate.Month, r.StartDate.Day) != r.StartDate {
		return invalid("start_date", "%04d-%02d-%02d is not a calendar date", r.StartDate.Year, int(r.StartDate.Month), r.StartDate.Day)
	}
	return nil
}

func (r Rule) validateFields() error {
	if !r.Frequency.Valid() {
		return invalid("frequency", "unknown frequency %q", r.Frequency)
	}
	switch r.Interval {
	case 1, 3, 6:
	default:
		return invalid("interval", "must be 1, 3 or 6, got %d", r.Interval)
	}
	if r.Interval != r.Frequency.Interval() {
		return invalid("interval", "%s rules use interval %d, got %d", r.Frequency, r.Frequency.Interval(), r.Interval)
	}
	if r.Frequency.usesTimeOfDay() {
		if r.TimeOfDay == nil {
			return invalid("time_of_day", "required for %s rules", r.Frequency)
		}
		if r.TimeOfDay.Hour < 0 || r.TimeOfDay.Hour > 23 || r.TimeOfDay.Minute < 0 || r.TimeOfDay.Minute > 59 {
			return invalid("time_of_day", "out of range: %s", r.TimeOfDay)
		}
	}
	if r.Frequency.usesDayOfWeek() {
		if r.DayOfWeek == nil {
			return invalid("day_of_week", "required for %s rules", r.Frequency)
		}
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return invalid("day_of_week", "must be 0-6, got %d", *r.DayOfWeek)
		}
	}
	if r.Frequency.usesDayOfMonth() {
		if r.DayOfMonth == nil {
			return invalid("day_of_month", "required for %s rules", r.Frequency)
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return invalid("day_of_month", "must be 1-31, got %d", *r.DayOfMonth)
		}
	}
	if r.Frequency.usesAnchorMonth() {
		if r.AnchorMonth == nil {
			return invalid("anchor_month", "required for %s rules", r.Frequency)
		}
		if *r.AnchorMonth < 0 || *r.AnchorMonth > 11 {
			return invalid("anchor_month", "must be 0-11, got %d", *r.AnchorMonth)
		}
	}
	if r.DueDateOffset < 0 {
		return invalid("due_date_offset", "must be >= 0, got %d", r.DueDateOffset)
	}
	if r.TargetDateOffset != nil && *r.TargetDateOffset < 0 {
		return invalid("target_date_offset", "must be >= 0, got %d", *r.TargetDateOffset)
	}
	return nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
