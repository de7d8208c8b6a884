package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	rrulePrefix  = "RRULE:"
	exdatePrefix = "EXDATE"

	untilDate     = "20060102"
	untilDateTime = "20060102T150405"
)

var dayCodes = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var codeDays = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, len(dayCodes))
	for d, c := range dayCodes {
		m[c] = d
	}
	return m
}()

// FormatRRule renders r as an RRULE line. Parts appear in a fixed order so
// equal rules render to equal text. UNTIL is written date-only, one day past
// the inclusive last date.
func FormatRRule(r Rule) string {
	parts := []string{"FREQ=" + string(r.Frequency)}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+dateOf(r.Until).AddDate(0, 0, 1).Format(untilDate))
	}
	if len(r.ByMonth) > 0 {
		ms := make([]string, len(r.ByMonth))
		for i, m := range r.ByMonth {
			ms[i] = strconv.Itoa(int(m))
		}
		parts = append(parts, "BYMONTH="+strings.Join(ms, ","))
	}
	if len(r.ByMonthDay) > 0 {
		ds := make([]string, len(r.ByMonthDay))
		for i, d := range r.ByMonthDay {
			ds[i] = strconv.Itoa(d)
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(ds, ","))
	}
	if len(r.ByDay) > 0 {
		ds := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			ds[i] = formatWeekdayNum(wd)
		}
		parts = append(parts, "BYDAY="+strings.Join(ds, ","))
	}
	return rrulePrefix + strings.Join(parts, ";")
}

func formatWeekdayNum(wd WeekdayNum) string {
	if wd.N == 0 {
		return dayCodes[wd.Day]
	}
	return strconv.Itoa(wd.N) + dayCodes[wd.Day]
}

// ParseRRule parses an RRULE line into the repetition half of a Rule. The
// caller fills in the anchor fields. anchor is the series start in its zone
// and is used to resolve a date-time UNTIL to an inclusive last date.
//
// A date-only UNTIL is read as one day past the last date, mirroring
// FormatRRule.
func ParseRRule(line string, anchor time.Time) (Rule, error) {
	body := strings.TrimSpace(line)
	if len(body) >= len(rrulePrefix) && strings.EqualFold(body[:len(rrulePrefix)], rrulePrefix) {
		body = body[len(rrulePrefix):]
	}
	if body == "" {
		return Rule{}, unsupported("empty RRULE")
	}

	r := Rule{Interval: 1}
	for _, part := range strings.Split(body, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, unsupported("malformed RRULE part %q", part)
		}
		key = strings.ToUpper(key)
		val = strings.ToUpper(val)

		switch key {
		case "FREQ":
			r.Frequency = Frequency(val)
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Rule{}, unsupported("INTERVAL %q", val)
			}
			r.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, unsupported("COUNT %q", val)
			}
			r.Count = n
		case "UNTIL":
			until, err := parseUntil(val, anchor)
			if err != nil {
				return Rule{}, err
			}
			r.Until = until
		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				wd, err := parseWeekdayNum(tok)
				if err != nil {
					return Rule{}, err
				}
				r.ByDay = append(r.ByDay, wd)
			}
		case "BYMONTHDAY":
			for _, tok := range strings.Split(val, ",") {
				n, err := strconv.Atoi(tok)
				if err != nil {
					return Rule{}, unsupported("BYMONTHDAY %q", tok)
				}
				r.ByMonthDay = append(r.ByMonthDay, n)
			}
		case "BYMONTH":
			for _, tok := range strings.Split(val, ",") {
				n, err := strconv.Atoi(tok)
				if err != nil {
					return Rule{}, unsupported("BYMONTH %q", tok)
				}
				r.ByMonth = append(r.ByMonth, time.Month(n))
			}
		case "WKST":
			if val != "MO" {
				return Rule{}, unsupported("week start %s", val)
			}
		default:
			return Rule{}, unsupported("RRULE part %s", key)
		}
	}
	if r.Frequency == "" {
		return Rule{}, unsupported("RRULE without FREQ")
	}
	return r, nil
}

func parseUntil(val string, anchor time.Time) (time.Time, error) {
	if len(val) == len(untilDate) {
		d, err := time.Parse(untilDate, val)
		if err != nil {
			return time.Time{}, unsupported("UNTIL %q", val)
		}
		return d.AddDate(0, 0, -1), nil
	}

	loc := anchor.Location()
	var instant time.Time
	var err error
	if strings.HasSuffix(val, "Z") {
		instant, err = time.Parse(untilDateTime+"Z", val)
	} else {
		instant, err = time.ParseInLocation(untilDateTime, val, loc)
	}
	if err != nil {
		return time.Time{}, unsupported("UNTIL %q", val)
	}

	// The last date is the latest whose occurrence does not start after the
	// UNTIL instant.
	d := dateOf(instant.In(loc))
	h, mi, s := anchor.Clock()
	occ := time.Date(d.Year(), d.Month(), d.Day(), h, mi, s, anchor.Nanosecond(), loc)
	if occ.After(instant) {
		d = d.AddDate(0, 0, -1)
	}
	return d, nil
}

func parseWeekdayNum(tok string) (WeekdayNum, error) {
	tok = strings.TrimSpace(tok)
	if len(tok) < 2 {
		return WeekdayNum{}, unsupported("BYDAY %q", tok)
	}
	code := tok[len(tok)-2:]
	day, ok := codeDays[code]
	if !ok {
		return WeekdayNum{}, unsupported("BYDAY %q", tok)
	}
	wd := WeekdayNum{Day: day}
	if prefix := tok[:len(tok)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n == 0 {
			return WeekdayNum{}, unsupported("BYDAY %q", tok)
		}
		wd.N = n
	}
	return wd, nil
}

// IsRRule reports whether line is an RRULE line.
func IsRRule(line string) bool {
	return hasPrefixFold(strings.TrimSpace(line), rrulePrefix)
}

// IsExDate reports whether line is an EXDATE line.
func IsExDate(line string) bool {
	return hasPrefixFold(strings.TrimSpace(line), exdatePrefix)
}

// ParseExDate parses an EXDATE line such as
// "EXDATE;TZID=Europe/Warsaw:20200610T150000,20200617T150000" into UTC
// instants. Floating values use loc; date-only values are midnight UTC.
func ParseExDate(line string, loc *time.Location) ([]time.Time, error) {
	line = strings.TrimSpace(line)
	head, values, ok := strings.Cut(line, ":")
	if !ok || !hasPrefixFold(head, exdatePrefix) {
		return nil, fmt.Errorf("malformed EXDATE line %q", line)
	}

	dateOnly := false
	params := strings.Split(head, ";")[1:]
	for _, p := range params {
		k, v, _ := strings.Cut(p, "=")
		switch strings.ToUpper(k) {
		case "TZID":
			l, err := time.LoadLocation(v)
			if err != nil {
				return nil, fmt.Errorf("EXDATE zone %q: %w", v, err)
			}
			loc = l
		case "VALUE":
			dateOnly = strings.EqualFold(v, "DATE")
		}
	}

	var out []time.Time
	for _, v := range strings.Split(values, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		var t time.Time
		var err error
		switch {
		case dateOnly || len(v) == len(untilDate):
			t, err = time.Parse(untilDate, v)
		case strings.HasSuffix(v, "Z"):
			t, err = time.Parse(untilDateTime+"Z", v)
		default:
			t, err = time.ParseInLocation(untilDateTime, v, loc)
		}
		if err != nil {
			return nil, fmt.Errorf("EXDATE value %q: %w", v, err)
		}
		out = append(out, t.UTC())
	}
	return out, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
