package billing

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PAY FREQUENCY
// =============================================================================

// Frequency is how often a client runs payroll.
type Frequency string

const (
	FrequencyWeekly      Frequency = "weekly"
	FrequencyBiweekly    Frequency = "biweekly"
	FrequencySemiMonthly Frequency = "semi-monthly"
	FrequencyMonthly     Frequency = "monthly"
)

// Frequencies lists every accepted frequency in display order.
var Frequencies = []Frequency{FrequencyWeekly, FrequencyBiweekly, FrequencySemiMonthly, FrequencyMonthly}

// ParseFrequency accepts the canonical names plus "semi-weekly", the legacy
// spelling of biweekly still present in older client records.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyBiweekly, "semi-weekly":
		return FrequencyBiweekly, nil
	case FrequencySemiMonthly:
		return FrequencySemiMonthly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	}
	return "", fmt.Errorf("unknown pay frequency %q", s)
}

func (f Frequency) Valid() bool {
	_, err := ParseFrequency(string(f))
	return err == nil
}

// Canonical maps legacy spellings onto their current name. Unknown values
// are returned unchanged.
func (f Frequency) Canonical() Frequency {
	if c, err := ParseFrequency(string(f)); err == nil {
		return c
	}
	return f
}

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

// ValidatePeriodStart reports whether d may start a pay period of the given
// frequency. The reason is empty when valid.
func ValidatePeriodStart(freq Frequency, d Date) (bool, string) {
	switch freq.Canonical() {
	case FrequencySemiMonthly:
		if d.Day() != 1 && d.Day() != 16 {
			return false, "Period start date must be the 1st or the 16th."
		}
	case FrequencyMonthly:
		if d.Day() != 1 {
			return false, "Period start date must be the 1st."
		}
	case FrequencyWeekly, FrequencyBiweekly:
	default:
		return false, fmt.Sprintf("Unknown pay frequency %q.", freq)
	}
	return true, ""
}

// AdvanceStart returns the start of the period following the one starting at
// current. An illegal start for the frequency is an error; callers validate
// before advancing.
func AdvanceStart(current Date, freq Frequency) (Date, error) {
	switch freq.Canonical() {
	case FrequencyWeekly:
		return current.AddDays(7), nil
	case FrequencyBiweekly:
		return current.AddDays(14), nil
	case FrequencySemiMonthly:
		switch current.Day() {
		case 1:
			return NewDate(current.Year(), current.Month(), 16), nil
		case 16:
			return FirstOfNextMonth(current), nil
		}
	case FrequencyMonthly:
		if current.Day() == 1 {
			return FirstOfNextMonth(current), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %s is not a %s period start", ErrIllegalPeriodStart, current, freq)
}

// PlusOneYear adds a fixed 365 days. It is not leap-year aware.
func PlusOneYear(d Date) Date { return d.AddDays(365) }

// FirstOfNextMonth wraps December into January of the following year.
func FirstOfNextMonth(d Date) Date {
	if d.Month() == time.December {
		return NewDate(d.Year()+1, time.January, 1)
	}
	return NewDate(d.Year(), d.Month()+1, 1)
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive [Start, End] range of days.
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days is the inclusive length of the period.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) + 1 }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// RegularPeriod derives the standing-schedule period that starts at start,
// along with the start of the period after it.
func RegularPeriod(start Date, freq Frequency) (Period, Date, error) {
	next, err := AdvanceStart(start, freq)
	if err != nil {
		return Period{}, Date{}, err
	}
	return Period{Start: start, End: next.AddDays(-1)}, next, nil
}
