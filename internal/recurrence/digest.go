package recurrence

import (
	"sort"
	"strings"
	"time"
)

// Digest renders a rule and its exceptions as stable text. Two series with
// the same digest produce the same occurrences; it feeds content
// fingerprints.
func Digest(r Rule, excs []Exception) string {
	r = r.withDefaults()
	var b strings.Builder
	b.WriteString(FormatRRule(r))
	b.WriteString("\nSTART:")
	b.WriteString(r.Start.UTC().Format(time.RFC3339))
	b.WriteString("\nDURATION:")
	b.WriteString(r.Duration.String())
	if r.AllDay {
		b.WriteString("\nALLDAY")
	} else if r.TimeZone != "" {
		b.WriteString("\nTZID:")
		b.WriteString(r.TimeZone)
	}

	sorted := append([]Exception(nil), excs...)
	SortExceptions(sorted)
	for _, e := range sorted {
		switch e := e.(type) {
		case Deleted:
			b.WriteString("\nDELETED:")
			b.WriteString(e.OriginalStart().Format(time.RFC3339))
		case Modified:
			b.WriteString("\nMODIFIED:")
			b.WriteString(e.OriginalStart().Format(time.RFC3339))
			b.WriteString(">")
			b.WriteString(e.Start.UTC().Format(time.RFC3339))
			b.WriteString("/")
			b.WriteString(e.End.UTC().Format(time.RFC3339))
			if e.Subject != "" {
				b.WriteString("/")
				b.WriteString(e.Subject)
			}
		}
	}
	return b.String()
}

// withDefaults makes implicit selections explicit so that rules with equal
// occurrences render equally: the anchor weekday for weekly rules, the
// anchor day for monthly and yearly rules, the anchor month for yearly.
func (r Rule) withDefaults() Rule {
	loc, err := r.Location()
	if err != nil {
		return r
	}
	anchor := r.Start.In(loc)
	r.ByDay = append([]WeekdayNum(nil), r.ByDay...)
	r.ByMonthDay = append([]int(nil), r.ByMonthDay...)
	r.ByMonth = append([]time.Month(nil), r.ByMonth...)

	switch r.Frequency {
	case Weekly:
		if len(r.ByDay) == 0 {
			r.ByDay = []WeekdayNum{{Day: anchor.Weekday()}}
		}
	case Monthly, Yearly:
		if len(r.ByDay) == 0 && len(r.ByMonthDay) == 0 {
			r.ByMonthDay = []int{anchor.Day()}
		}
		if r.Frequency == Yearly && len(r.ByMonth) == 0 {
			r.ByMonth = []time.Month{anchor.Month()}
		}
	}
	sort.Slice(r.ByDay, func(i, j int) bool {
		if r.ByDay[i].N != r.ByDay[j].N {
			return r.ByDay[i].N < r.ByDay[j].N
		}
		return mondayOffset(r.ByDay[i].Day) < mondayOffset(r.ByDay[j].Day)
	})
	sort.Ints(r.ByMonthDay)
	sort.Slice(r.ByMonth, func(i, j int) bool { return r.ByMonth[i] < r.ByMonth[j] })
	return r
}

// mondayOffset is the number of days from Monday (week start) to wd.
func mondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
