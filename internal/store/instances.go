package store

import (
	"fmt"
	"time"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
)

// InstanceID names one occurrence of a series by its original start.
func InstanceID(recurringID string, original time.Time) string {
	return recurringID + "_" + original.UTC().Format("20060102T150405Z")
}

// ExpandInstances expands a recurring master, whose native recurrence
// carries all its exceptions, into occurrence items over window. It is the
// shared implementation of ListInstances for stores that keep series as a
// rule plus overrides.
func ExpandInstances(master *model.Item, window TimeRange, includeDeleted bool) ([]model.Item, error) {
	rule, excs, ok, err := model.Canonical(master)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", master.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("expand %s: item is not recurring", master.ID)
	}
	loc, err := rule.Location()
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", master.ID, err)
	}

	from, to := window.From, window.To
	if from.IsZero() {
		from = rule.Start
	}
	if to.IsZero() {
		end, bounded, err := recurrence.LastEnd(rule)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", master.ID, err)
		}
		if !bounded {
			return nil, fmt.Errorf("expand %s: open window on a series with no end", master.ID)
		}
		to = end
	}

	originals, err := recurrence.Occurrences(rule, from, to)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", master.ID, err)
	}

	out := make([]model.Item, 0, len(originals))
	for _, orig := range originals {
		start := orig.In(loc)
		inst := model.Item{
			ID:            InstanceID(master.ID, orig),
			Kind:          model.KindAppointment,
			Subject:       master.Subject,
			Start:         start,
			End:           start.Add(rule.Duration),
			AllDay:        rule.AllDay,
			TimeZone:      master.TimeZone,
			Sensitivity:   master.Sensitivity,
			RecurringID:   master.ID,
			OriginalStart: orig,
			Created:       master.Created,
			Modified:      master.Modified,
		}
		if rule.AllDay {
			inst.End = start.AddDate(0, 0, int(rule.Duration/(24*time.Hour)))
		}
		if e, found := recurrence.FindException(excs, orig); found {
			switch e := e.(type) {
			case recurrence.Deleted:
				if !includeDeleted {
					continue
				}
				inst.Cancelled = true
			case recurrence.Modified:
				inst.Start = e.Start
				inst.End = e.End
				if e.Subject != "" {
					inst.Subject = e.Subject
				}
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// Overrides turns occurrence items back into instance overrides: every
// cancelled occurrence, and every occurrence whose time or subject differs
// from what the series generates. It is the inverse of ExpandInstances for
// a Series master.
func Overrides(master *model.Item, instances []model.Item) ([]recurrence.Instance, error) {
	if master.Series == nil {
		return nil, fmt.Errorf("overrides %s: item has no instance-based series", master.ID)
	}
	bare := *master.Series
	bare.Instances = nil
	rule, _, err := recurrence.InstanceTranslator{}.ToCanonical(bare)
	if err != nil {
		return nil, fmt.Errorf("overrides %s: %w", master.ID, err)
	}
	loc, err := rule.Location()
	if err != nil {
		return nil, fmt.Errorf("overrides %s: %w", master.ID, err)
	}

	at := func(t time.Time) recurrence.EventTime {
		if rule.AllDay {
			return recurrence.EventTime{Date: recurrence.DateOf(t, time.UTC).Format("2006-01-02")}
		}
		return recurrence.EventTime{DateTime: t.In(loc), TimeZone: rule.TimeZone}
	}

	var out []recurrence.Instance
	for _, inst := range instances {
		if inst.RecurringID != master.ID || inst.OriginalStart.IsZero() {
			continue
		}
		orig := inst.OriginalStart.In(loc)
		genEnd := orig.Add(rule.Duration)
		if rule.AllDay {
			genEnd = orig.AddDate(0, 0, int(rule.Duration/(24*time.Hour)))
		}
		switch {
		case inst.Cancelled:
			out = append(out, recurrence.Instance{
				OriginalStart: at(orig),
				Start:         at(orig),
				End:           at(genEnd),
				Status:        recurrence.StatusCancelled,
			})
		case !inst.Start.Equal(orig) || !inst.End.Equal(genEnd) || inst.Subject != master.Subject:
			summary := inst.Subject
			if summary == master.Subject {
				summary = ""
			}
			out = append(out, recurrence.Instance{
				OriginalStart: at(orig),
				Start:         at(inst.Start),
				End:           at(inst.End),
				Summary:       summary,
				Status:        recurrence.StatusConfirmed,
			})
		}
	}
	return out, nil
}

// SeriesBounds returns the span an item occupies for window filtering. end
// is zero for a series with no end.
func SeriesBounds(it *model.Item) (start, end time.Time, err error) {
	rule, _, ok, err := model.Canonical(it)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return it.Start, it.End, nil
	}
	last, bounded, err := recurrence.LastEnd(rule)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !bounded {
		return rule.Start, time.Time{}, nil
	}
	return rule.Start, last, nil
}

// InWindow reports whether the item passes filter's kind and window.
func InWindow(it *model.Item, f Filter) (bool, error) {
	if !f.Includes(it.Kind) {
		return false, nil
	}
	if it.Kind == model.KindContact {
		return true, nil
	}
	start, end, err := SeriesBounds(it)
	if err != nil {
		return false, err
	}
	if end.IsZero() && !it.IsRecurring() {
		end = start
	}
	return f.Window.Overlaps(start, end), nil
}
