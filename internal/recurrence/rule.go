package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata" // zone names arrive from remote stores; do not depend on the host database
)

// ErrUnsupportedRecurrence is returned when a recurrence cannot be expressed
// in the target model.
var ErrUnsupportedRecurrence = errors.New("unsupported recurrence")

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedRecurrence, fmt.Sprintf(format, args...))
}

// Frequency is the base repetition unit of a Rule.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// WeekdayNum is a BYDAY entry. N is zero for "every <day>", 1..5 for the
// nth weekday of the month and -1..-5 counting from the end.
type WeekdayNum struct {
	N   int
	Day time.Weekday
}

// Rule is the canonical repeating-event definition.
type Rule struct {
	Frequency  Frequency
	Interval   int
	ByDay      []WeekdayNum
	ByMonthDay []int
	ByMonth    []time.Month

	// Count and Until are mutually exclusive; both zero means no end.
	// Until is the inclusive last date, as midnight UTC.
	Count int
	Until time.Time

	// Start is the first occurrence. For timed rules it is expressed in
	// the TimeZone location; for all-day rules it is midnight UTC.
	Start    time.Time
	Duration time.Duration
	AllDay   bool
	TimeZone string
}

// NoEnd reports whether the rule repeats forever.
func (r Rule) NoEnd() bool {
	return r.Count == 0 && r.Until.IsZero()
}

// Location resolves the rule's time zone. All-day rules and rules with no
// zone use UTC.
func (r Rule) Location() (*time.Location, error) {
	if r.AllDay || r.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrUnsupportedRecurrence, r.TimeZone, err)
	}
	return loc, nil
}

// Validate checks structural consistency.
func (r Rule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return unsupported("frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return unsupported("interval %d", r.Interval)
	}
	if r.Count < 0 {
		return unsupported("count %d", r.Count)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return unsupported("both COUNT and UNTIL set")
	}
	if r.Start.IsZero() {
		return unsupported("rule has no start anchor")
	}
	if r.Duration < 0 {
		return unsupported("negative duration %s", r.Duration)
	}
	if r.AllDay && r.Duration%(24*time.Hour) != 0 {
		return unsupported("all-day duration %s is not whole days", r.Duration)
	}
	for _, d := range r.ByDay {
		if d.N < -5 || d.N > 5 {
			return unsupported("BYDAY ordinal %d", d.N)
		}
		if d.N != 0 && r.Frequency != Monthly && r.Frequency != Yearly {
			return unsupported("BYDAY ordinal with %s", r.Frequency)
		}
	}
	for _, md := range r.ByMonthDay {
		if md == 0 || md < -31 || md > 31 {
			return unsupported("BYMONTHDAY %d", md)
		}
	}
	for _, m := range r.ByMonth {
		if m < time.January || m > time.December {
			return unsupported("BYMONTH %d", m)
		}
	}
	_, err := r.Location()
	return err
}

// Exception is a deviation from the generated series, keyed by the
// original occurrence start.
type Exception interface {
	OriginalStart() time.Time
	isException()
}

// Modified is an occurrence whose time or subject was changed. An empty
// Subject means the series subject applies.
type Modified struct {
	Original time.Time
	Start    time.Time
	End      time.Time
	Subject  string
}

func (m Modified) OriginalStart() time.Time { return m.Original.UTC() }
func (Modified) isException()               {}

// Deleted is an occurrence removed from the series.
type Deleted struct {
	Original time.Time
}

func (d Deleted) OriginalStart() time.Time { return d.Original.UTC() }
func (Deleted) isException()               {}

// SortExceptions orders exceptions by original start.
func SortExceptions(excs []Exception) {
	sort.SliceStable(excs, func(i, j int) bool {
		return excs[i].OriginalStart().Before(excs[j].OriginalStart())
	})
}

// FindException returns the exception keyed at original, if any.
func FindException(excs []Exception, original time.Time) (Exception, bool) {
	for _, e := range excs {
		if e.OriginalStart().Equal(original) {
			return e, true
		}
	}
	return nil, false
}

// dateOf truncates t to its calendar date in t's own location, returned as
// midnight UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the calendar date of t in loc as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	return dateOf(t.In(loc))
}

func wholeDays(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
