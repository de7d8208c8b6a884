package recurrence

import (
	"fmt"
	"time"
)

// Instance statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

const dateLayout = "2006-01-02"

// EventTime is a start or end in the Secondary store's shape: either a
// date-time with a named zone, or a date for all-day events.
type EventTime struct {
	DateTime time.Time `json:"dateTime,omitempty"`
	Date     string    `json:"date,omitempty"`
	TimeZone string    `json:"timeZone,omitempty"`
}

// IsAllDay reports whether the value is date-only.
func (e EventTime) IsAllDay() bool { return e.Date != "" }

// Instant resolves the value. Date-only values are midnight UTC.
func (e EventTime) Instant() (time.Time, error) {
	if e.IsAllDay() {
		d, err := time.Parse(dateLayout, e.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", e.Date, err)
		}
		return d, nil
	}
	if e.DateTime.IsZero() {
		return time.Time{}, fmt.Errorf("event time has neither date nor dateTime")
	}
	if e.TimeZone != "" {
		loc, err := time.LoadLocation(e.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time zone %q: %v", ErrUnsupportedRecurrence, e.TimeZone, err)
		}
		return e.DateTime.In(loc), nil
	}
	return e.DateTime, nil
}

// Instance is an override of one occurrence. OriginalStart identifies the
// occurrence; a cancelled instance is a deleted occurrence.
type Instance struct {
	OriginalStart EventTime `json:"originalStartTime"`
	Start         EventTime `json:"start"`
	End           EventTime `json:"end"`
	Summary       string    `json:"summary,omitempty"`
	Status        string    `json:"status"`
}

// Cancelled reports whether the instance removes its occurrence.
func (i Instance) Cancelled() bool { return i.Status == StatusCancelled }

// Series is the Secondary store's instance-based recurrence.
type Series struct {
	Recurrence []string   `json:"recurrence"`
	Start      EventTime  `json:"start"`
	End        EventTime  `json:"end"`
	Summary    string     `json:"summary,omitempty"`
	Instances  []Instance `json:"-"`
}

// InstanceTranslator converts between Series and the canonical model.
type InstanceTranslator struct{}

// ToCanonical converts a Series and its instance overrides to a Rule and
// normalized exceptions. EXDATE lines become Deleted exceptions.
func (InstanceTranslator) ToCanonical(s Series) (Rule, []Exception, error) {
	start, err := s.Start.Instant()
	if err != nil {
		return Rule{}, nil, fmt.Errorf("series start: %w", err)
	}
	end, err := s.End.Instant()
	if err != nil {
		end = start
		if s.Start.IsAllDay() {
			end = start.AddDate(0, 0, 1)
		}
	}

	var rrule string
	var exdates []string
	for _, line := range s.Recurrence {
		switch {
		case IsRRule(line):
			if rrule != "" {
				return Rule{}, nil, unsupported("multiple RRULE lines")
			}
			rrule = line
		case IsExDate(line):
			exdates = append(exdates, line)
		default:
			return Rule{}, nil, unsupported("recurrence line %q", line)
		}
	}
	if rrule == "" {
		return Rule{}, nil, unsupported("series without RRULE")
	}

	r, err := ParseRRule(rrule, start)
	if err != nil {
		return Rule{}, nil, err
	}
	r.Start = start
	r.Duration = end.Sub(start)
	if s.Start.IsAllDay() {
		r.AllDay = true
	} else {
		r.TimeZone = s.Start.TimeZone
	}
	if err := r.Validate(); err != nil {
		return Rule{}, nil, err
	}
	loc, err := r.Location()
	if err != nil {
		return Rule{}, nil, err
	}

	var excs []Exception
	for _, line := range exdates {
		ts, err := ParseExDate(line, loc)
		if err != nil {
			return Rule{}, nil, unsupported("%v", err)
		}
		for _, t := range ts {
			excs = append(excs, Deleted{Original: t})
		}
	}
	for _, inst := range s.Instances {
		orig, err := inst.OriginalStart.Instant()
		if err != nil {
			return Rule{}, nil, fmt.Errorf("instance original start: %w", err)
		}
		if inst.Cancelled() {
			excs = append(excs, Deleted{Original: orig.UTC()})
			continue
		}
		m := Modified{Original: orig.UTC()}
		if m.Start, err = inst.Start.Instant(); err != nil {
			return Rule{}, nil, fmt.Errorf("instance start: %w", err)
		}
		if m.End, err = inst.End.Instant(); err != nil {
			return Rule{}, nil, fmt.Errorf("instance end: %w", err)
		}
		if inst.Summary != s.Summary {
			m.Subject = inst.Summary
		}
		excs = append(excs, m)
	}

	excs, err = Normalize(r, excs)
	if err != nil {
		return Rule{}, nil, err
	}
	return r, excs, nil
}

// FromCanonical converts a Rule and exceptions to a Series. The series
// summary is left for the caller; overrides with an empty Subject inherit it.
func (InstanceTranslator) FromCanonical(r Rule, excs []Exception) (Series, error) {
	if err := r.Validate(); err != nil {
		return Series{}, err
	}
	loc, err := r.Location()
	if err != nil {
		return Series{}, err
	}
	anchor := r.Start.In(loc)

	s := Series{
		Recurrence: []string{FormatRRule(r)},
		Start:      eventTime(r, anchor, loc),
		End:        eventTime(r, occurrenceEnd(r, anchor), loc),
	}

	norm, err := Normalize(r, excs)
	if err != nil {
		return Series{}, err
	}
	for _, e := range norm {
		orig := e.OriginalStart().In(loc)
		switch e := e.(type) {
		case Deleted:
			s.Instances = append(s.Instances, Instance{
				OriginalStart: eventTime(r, orig, loc),
				Start:         eventTime(r, orig, loc),
				End:           eventTime(r, occurrenceEnd(r, orig), loc),
				Status:        StatusCancelled,
			})
		case Modified:
			s.Instances = append(s.Instances, Instance{
				OriginalStart: eventTime(r, orig, loc),
				Start:         eventTime(r, e.Start, loc),
				End:           eventTime(r, e.End, loc),
				Summary:       e.Subject,
				Status:        StatusConfirmed,
			})
		}
	}
	return s, nil
}

func eventTime(r Rule, t time.Time, loc *time.Location) EventTime {
	if r.AllDay {
		return EventTime{Date: dateOf(t).Format(dateLayout)}
	}
	return EventTime{DateTime: t.In(loc), TimeZone: r.TimeZone}
}
