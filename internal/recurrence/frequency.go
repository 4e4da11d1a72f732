package recurrence

import (
	"fmt"
	"strings"
)

// Frequency selects how a rule repeats and which anchor fields it uses.
type Frequency string

const (
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "quarterly"
	HalfYearly Frequency = "half_yearly"
	Yearly     Frequency = "yearly"
)

// Frequencies lists every supported frequency in display order.
var Frequencies = []Frequency{Daily, Weekly, Monthly, Quarterly, HalfYearly, Yearly}

// ParseFrequency accepts the canonical names plus a few spellings the
// frontend has used over time ("half-yearly", "halfyearly").
func ParseFrequency(s string) (Frequency, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	if v == "halfyearly" {
		v = string(HalfYearly)
	}
	f := Frequency(v)
	if !f.Valid() {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Quarterly, HalfYearly, Yearly:
		return true
	}
	return false
}

// Interval is the month multiplier used by period matching.
// Yearly matches by month and day equality instead, so it stays at 1.
func (f Frequency) Interval() int {
	switch f {
	case Quarterly:
		return 3
	case HalfYearly:
		return 6
	default:
		return 1
	}
}

func (f Frequency) usesTimeOfDay() bool { return f == Daily }
func (f Frequency) usesDayOfWeek() bool { return f == Weekly }

func (f Frequency) usesDayOfMonth() bool {
	switch f {
	case Monthly, Quarterly, HalfYearly, Yearly:
		return true
	}
	return false
}

func (f Frequency) usesAnchorMonth() bool {
	switch f {
	case Quarterly, HalfYearly, Yearly:
		return true
	}
	return false
}
