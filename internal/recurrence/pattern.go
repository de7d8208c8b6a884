package recurrence

import (
	"fmt"
	"time"
)

// PatternType is the Primary store's recurrence kind.
type PatternType int

const (
	PatternDaily PatternType = iota
	PatternWeekly
	PatternMonthly
	PatternMonthNth
	PatternYearly
	PatternYearNth
)

func (t PatternType) String() string {
	switch t {
	case PatternDaily:
		return "daily"
	case PatternWeekly:
		return "weekly"
	case PatternMonthly:
		return "monthly"
	case PatternMonthNth:
		return "monthly-nth"
	case PatternYearly:
		return "yearly"
	case PatternYearNth:
		return "yearly-nth"
	}
	return fmt.Sprintf("PatternType(%d)", int(t))
}

// DayMask is a set of weekdays, Sunday = 1, Monday = 2 ... Saturday = 64.
type DayMask int

// MaskOf builds a mask from days.
func MaskOf(days ...time.Weekday) DayMask {
	var m DayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

// Has reports whether d is in the mask.
func (m DayMask) Has(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// Days returns the mask's weekdays, Monday first.
func (m DayMask) Days() []time.Weekday {
	var out []time.Weekday
	for i := 0; i < 7; i++ {
		d := time.Weekday((i + 1) % 7)
		if m.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// LastInstance is the Pattern.Instance value meaning "last".
const LastInstance = 5

// Pattern is the Primary store's rule-based recurrence.
type Pattern struct {
	Type PatternType `json:"type"`
	// Interval counts days, weeks or months. Yearly patterns use months,
	// always a multiple of 12.
	Interval      int           `json:"interval"`
	DayOfWeekMask DayMask       `json:"dayOfWeekMask,omitempty"`
	DayOfMonth    int           `json:"dayOfMonth,omitempty"`
	Instance      int           `json:"instance,omitempty"`
	MonthOfYear   time.Month    `json:"monthOfYear,omitempty"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
	AllDay        bool          `json:"allDay,omitempty"`
	TimeZone      string        `json:"timeZone,omitempty"`

	NoEndDate   bool      `json:"noEndDate,omitempty"`
	EndDate     time.Time `json:"endDate,omitempty"`
	Occurrences int       `json:"occurrences,omitempty"`

	Exceptions []PatternException `json:"exceptions,omitempty"`
}

// PatternException is one exception record. OriginalDate is the start the
// occurrence would have had. Deleted records carry no replacement times.
type PatternException struct {
	OriginalDate time.Time `json:"originalDate"`
	Deleted      bool      `json:"deleted,omitempty"`
	Start        time.Time `json:"start,omitempty"`
	End          time.Time `json:"end,omitempty"`
	Subject      string    `json:"subject,omitempty"`
}

// RuleTranslator converts between Pattern and the canonical model.
type RuleTranslator struct {
	// MaxInterval is the largest interval the store accepts per pattern type.
	// Zero means unlimited.
	MaxInterval map[PatternType]int
}

// NewRuleTranslator returns a translator with the Primary store's limits.
func NewRuleTranslator() RuleTranslator {
	return RuleTranslator{MaxInterval: map[PatternType]int{
		PatternDaily:    999,
		PatternWeekly:   99,
		PatternMonthly:  99,
		PatternMonthNth: 99,
		PatternYearly:   99 * 12,
		PatternYearNth:  99 * 12,
	}}
}

func (t RuleTranslator) checkInterval(typ PatternType, interval int) error {
	if interval < 1 {
		return unsupported("%s interval %d", typ, interval)
	}
	if (typ == PatternYearly || typ == PatternYearNth) && interval%12 != 0 {
		return unsupported("%s interval of %d months is not a whole number of years", typ, interval)
	}
	if limit := t.MaxInterval[typ]; limit > 0 && interval > limit {
		return unsupported("%s interval %d exceeds %d", typ, interval, limit)
	}
	return nil
}

// ToCanonical converts a Pattern to a Rule and its normalized exceptions.
func (t RuleTranslator) ToCanonical(p Pattern) (Rule, []Exception, error) {
	if err := t.checkInterval(p.Type, p.Interval); err != nil {
		return Rule{}, nil, err
	}

	r := Rule{
		Interval: p.Interval,
		Start:    p.Start,
		Duration: p.Duration,
		AllDay:   p.AllDay,
		TimeZone: p.TimeZone,
	}
	if p.AllDay {
		r.Start = dateOf(p.Start)
		r.TimeZone = ""
	} else if loc, err := r.Location(); err == nil {
		r.Start = p.Start.In(loc)
	}

	switch p.Type {
	case PatternDaily:
		r.Frequency = Daily
	case PatternWeekly:
		r.Frequency = Weekly
		for _, d := range p.DayOfWeekMask.Days() {
			r.ByDay = append(r.ByDay, WeekdayNum{Day: d})
		}
	case PatternMonthly:
		r.Frequency = Monthly
		if p.DayOfMonth > 0 {
			r.ByMonthDay = []int{p.DayOfMonth}
		}
	case PatternMonthNth:
		r.Frequency = Monthly
		r.ByDay = nthDays(p)
	case PatternYearly, PatternYearNth:
		r.Frequency = Yearly
		r.Interval = p.Interval / 12
		if p.MonthOfYear != 0 {
			r.ByMonth = []time.Month{p.MonthOfYear}
		}
		if p.Type == PatternYearNth {
			r.ByDay = nthDays(p)
		} else if p.DayOfMonth > 0 {
			r.ByMonthDay = []int{p.DayOfMonth}
		}
	default:
		return Rule{}, nil, unsupported("pattern type %d", int(p.Type))
	}
	if (p.Type == PatternMonthNth || p.Type == PatternYearNth) && len(r.ByDay) == 0 {
		return Rule{}, nil, unsupported("%s pattern without days", p.Type)
	}

	switch {
	case p.NoEndDate:
	case p.Occurrences > 0:
		r.Count = p.Occurrences
	case !p.EndDate.IsZero():
		r.Until = dateOf(p.EndDate)
	}

	if err := r.Validate(); err != nil {
		return Rule{}, nil, err
	}

	excs := make([]Exception, 0, len(p.Exceptions))
	for _, pe := range p.Exceptions {
		orig := pe.OriginalDate.UTC()
		if p.AllDay {
			orig = dateOf(pe.OriginalDate)
		}
		if pe.Deleted {
			excs = append(excs, Deleted{Original: orig})
			continue
		}
		excs = append(excs, Modified{
			Original: orig,
			Start:    pe.Start,
			End:      pe.End,
			Subject:  pe.Subject,
		})
	}
	excs, err := Normalize(r, excs)
	if err != nil {
		return Rule{}, nil, err
	}
	return r, excs, nil
}

func nthDays(p Pattern) []WeekdayNum {
	n := p.Instance
	if n == LastInstance {
		n = -1
	}
	var out []WeekdayNum
	for _, d := range p.DayOfWeekMask.Days() {
		out = append(out, WeekdayNum{N: n, Day: d})
	}
	return out
}

// FromCanonical converts a Rule and exceptions to a Pattern. Shapes the
// Primary store cannot hold fail with ErrUnsupportedRecurrence.
func (t RuleTranslator) FromCanonical(r Rule, excs []Exception) (Pattern, error) {
	if err := r.Validate(); err != nil {
		return Pattern{}, err
	}
	loc, err := r.Location()
	if err != nil {
		return Pattern{}, err
	}
	anchor := r.Start.In(loc)

	p := Pattern{
		Interval: r.Interval,
		Start:    anchor,
		Duration: r.Duration,
		AllDay:   r.AllDay,
		TimeZone: r.TimeZone,
	}

	switch r.Frequency {
	case Daily:
		if len(r.ByMonth) > 0 || len(r.ByMonthDay) > 0 {
			return Pattern{}, unsupported("daily rule with BYMONTH or BYMONTHDAY")
		}
		if len(r.ByDay) > 0 {
			// Every day restricted to some weekdays is a weekly pattern.
			if r.Interval != 1 {
				return Pattern{}, unsupported("daily rule with BYDAY and interval %d", r.Interval)
			}
			p.Type = PatternWeekly
			p.DayOfWeekMask = maskOf(r.ByDay)
		} else {
			p.Type = PatternDaily
		}

	case Weekly:
		if len(r.ByMonth) > 0 || len(r.ByMonthDay) > 0 {
			return Pattern{}, unsupported("weekly rule with BYMONTH or BYMONTHDAY")
		}
		p.Type = PatternWeekly
		if len(r.ByDay) > 0 {
			p.DayOfWeekMask = maskOf(r.ByDay)
		} else {
			p.DayOfWeekMask = MaskOf(anchor.Weekday())
		}

	case Monthly:
		if len(r.ByMonth) > 0 {
			return Pattern{}, unsupported("monthly rule with BYMONTH")
		}
		if err := monthDaySelection(&p, r, anchor, PatternMonthly, PatternMonthNth); err != nil {
			return Pattern{}, err
		}

	case Yearly:
		switch len(r.ByMonth) {
		case 0:
			p.MonthOfYear = anchor.Month()
		case 1:
			p.MonthOfYear = r.ByMonth[0]
		default:
			return Pattern{}, unsupported("yearly rule with %d months", len(r.ByMonth))
		}
		if err := monthDaySelection(&p, r, anchor, PatternYearly, PatternYearNth); err != nil {
			return Pattern{}, err
		}
		p.Interval = r.Interval * 12
	}

	if err := t.checkInterval(p.Type, p.Interval); err != nil {
		return Pattern{}, err
	}

	switch {
	case r.Count > 0:
		p.Occurrences = r.Count
	case !r.Until.IsZero():
		p.EndDate = dateOf(r.Until)
	default:
		p.NoEndDate = true
	}

	norm, err := Normalize(r, excs)
	if err != nil {
		return Pattern{}, err
	}
	for _, e := range norm {
		orig := e.OriginalStart().In(loc)
		switch e := e.(type) {
		case Deleted:
			p.Exceptions = append(p.Exceptions, PatternException{OriginalDate: orig, Deleted: true})
		case Modified:
			p.Exceptions = append(p.Exceptions, PatternException{
				OriginalDate: orig,
				Start:        e.Start,
				End:          e.End,
				Subject:      e.Subject,
			})
		}
	}
	return p, nil
}

// monthDaySelection fills the day-within-month fields shared by monthly and
// yearly patterns.
func monthDaySelection(p *Pattern, r Rule, anchor time.Time, byDate, byNth PatternType) error {
	switch {
	case len(r.ByDay) > 0 && len(r.ByMonthDay) > 0:
		return unsupported("%s rule with both BYDAY and BYMONTHDAY", r.Frequency)

	case len(r.ByDay) > 0:
		n := r.ByDay[0].N
		for _, wd := range r.ByDay {
			if wd.N != n {
				return unsupported("BYDAY with mixed ordinals")
			}
		}
		switch {
		case n == 0:
			return unsupported("%s rule with BYDAY lacking an ordinal", r.Frequency)
		case n == -1:
			p.Instance = LastInstance
		case n < 0 || n > 4:
			return unsupported("BYDAY ordinal %d", n)
		default:
			p.Instance = n
		}
		p.Type = byNth
		p.DayOfWeekMask = maskOf(r.ByDay)

	case len(r.ByMonthDay) > 0:
		if len(r.ByMonthDay) > 1 {
			return unsupported("%d BYMONTHDAY values", len(r.ByMonthDay))
		}
		if r.ByMonthDay[0] < 1 {
			return unsupported("BYMONTHDAY %d", r.ByMonthDay[0])
		}
		p.Type = byDate
		p.DayOfMonth = r.ByMonthDay[0]

	default:
		p.Type = byDate
		p.DayOfMonth = anchor.Day()
	}
	return nil
}

func maskOf(days []WeekdayNum) DayMask {
	var m DayMask
	for _, wd := range days {
		m |= MaskOf(wd.Day)
	}
	return m
}
