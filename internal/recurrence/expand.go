package recurrence

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

// Occurrence is one concrete instance of a series after exceptions apply.
type Occurrence struct {
	// Original is the generated start, in UTC. It is the exception key.
	Original time.Time
	Start    time.Time
	End      time.Time
	// Subject is set only when a Modified exception overrides it.
	Subject  string
	Modified bool
}

// Occurrences returns the generated (pre-exception) starts that fall in
// [from, to), as UTC instants.
func Occurrences(r Rule, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	err := generate(r, to, func(start time.Time) bool {
		if !start.Before(from) {
			out = append(out, start.UTC())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Expand applies exceptions to the generated series over [from, to).
// Deleted occurrences are omitted. Occurrences are selected by their
// original start and returned in original-start order.
func Expand(r Rule, excs []Exception, from, to time.Time) ([]Occurrence, error) {
	starts, err := Occurrences(r, from, to)
	if err != nil {
		return nil, err
	}
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}

	byKey := indexExceptions(excs)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		switch e := byKey[s.UnixNano()].(type) {
		case Deleted:
			continue
		case Modified:
			out = append(out, Occurrence{
				Original: s,
				Start:    e.Start,
				End:      e.End,
				Subject:  e.Subject,
				Modified: true,
			})
		default:
			start := s.In(loc)
			out = append(out, Occurrence{
				Original: s,
				Start:    start,
				End:      occurrenceEnd(r, start),
			})
		}
	}
	return out, nil
}

// LastEnd returns the end of the final occurrence. ok is false when the
// rule has no end.
func LastEnd(r Rule) (end time.Time, ok bool, err error) {
	if r.NoEnd() {
		return time.Time{}, false, nil
	}
	var last time.Time
	err = generate(r, time.Time{}, func(start time.Time) bool {
		last = start
		return true
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if last.IsZero() {
		return r.Start, true, nil
	}
	return occurrenceEnd(r, last), true, nil
}

// Normalize returns a sorted, de-duplicated copy of excs with two kinds of
// entries removed: exceptions whose key is not a generated occurrence, and
// Modified exceptions that are identical to the generated occurrence (an
// occurrence moved back to its original time is no longer an exception).
func Normalize(r Rule, excs []Exception) ([]Exception, error) {
	if len(excs) == 0 {
		return nil, nil
	}
	byKey := indexExceptions(excs)

	var lo, hi time.Time
	for _, e := range byKey {
		k := e.OriginalStart()
		if lo.IsZero() || k.Before(lo) {
			lo = k
		}
		if hi.IsZero() || k.After(hi) {
			hi = k
		}
	}
	starts, err := Occurrences(r, lo, hi.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}

	out := make([]Exception, 0, len(byKey))
	for _, s := range starts {
		e, ok := byKey[s.UnixNano()]
		if !ok {
			continue
		}
		if m, isMod := e.(Modified); isMod {
			genStart := s.In(loc)
			if sameInstant(r, m.Start, genStart) && sameInstant(r, m.End, occurrenceEnd(r, genStart)) && m.Subject == "" {
				continue
			}
		}
		out = append(out, e)
	}
	SortExceptions(out)
	return out, nil
}

func indexExceptions(excs []Exception) map[int64]Exception {
	byKey := make(map[int64]Exception, len(excs))
	for _, e := range excs {
		byKey[e.OriginalStart().UnixNano()] = e
	}
	return byKey
}

func sameInstant(r Rule, a, b time.Time) bool {
	if r.AllDay {
		return dateOf(a).Equal(dateOf(b))
	}
	return a.Equal(b)
}

func occurrenceEnd(r Rule, start time.Time) time.Time {
	if r.AllDay {
		return start.AddDate(0, 0, wholeDays(r.Duration))
	}
	return start.Add(r.Duration)
}

// generate calls fn with each occurrence start in order. It stops when fn
// returns false, the rule ends, or a start reaches limit (zero limit means
// no limit, allowed only for rules with an end).
func generate(r Rule, limit time.Time, fn func(time.Time) bool) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.NoEnd() && limit.IsZero() {
		return fmt.Errorf("unbounded expansion of a rule with no end")
	}
	rr, anchor, err := compile(r)
	if err != nil {
		return err
	}

	next := rr.Iterator()
	for {
		start, ok := next()
		if !ok {
			return nil
		}
		// rrule works in whole seconds.
		start = start.Add(time.Duration(anchor.Nanosecond()))
		if !limit.IsZero() && !start.Before(limit) {
			return nil
		}
		if !fn(start) {
			return nil
		}
	}
}

var frequencies = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var weekdays = [...]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// compile builds the rrule iterator for r, anchored on the wall clock of
// the rule's zone. It returns the anchor too.
//
// Until is an inclusive last date, so it becomes the last second of that
// date in the zone. A yearly rule without BYMONTH stays in the anchor's
// month, which is how the Primary store reads yearly patterns.
func compile(r Rule) (*rrule.RRule, time.Time, error) {
	loc, err := r.Location()
	if err != nil {
		return nil, time.Time{}, err
	}
	anchor := r.Start.In(loc)

	opt := rrule.ROption{
		Freq:       frequencies[r.Frequency],
		Dtstart:    anchor,
		Interval:   r.Interval,
		Wkst:       rrule.MO,
		Count:      r.Count,
		Bymonthday: slices.Clone(r.ByMonthDay),
	}
	if !r.Until.IsZero() {
		y, m, d := r.Until.Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, loc)
	}
	for _, wd := range r.ByDay {
		day := weekdays[wd.Day]
		if wd.N != 0 {
			day = day.Nth(wd.N)
		}
		opt.Byweekday = append(opt.Byweekday, day)
	}
	for _, m := range r.ByMonth {
		opt.Bymonth = append(opt.Bymonth, int(m))
	}
	if r.Frequency == Yearly && len(opt.Bymonth) == 0 {
		opt.Bymonth = []int{int(anchor.Month())}
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, time.Time{}, unsupported("%v", err)
	}
	return rr, anchor, nil
}
