package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a store in a temp dir with deterministic IDs and
// clock.
func createTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	n := 0
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%03d", n)
		}),
	}
	s, err := Open(path, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestContact(name, email string) model.Item {
	return model.Item{Kind: model.KindContact, Name: name, Email: email}
}

func createTestAppointment(subject string, start time.Time) model.Item {
	return model.Item{
		Kind:    model.KindAppointment,
		Subject: subject,
		Start:   start,
		End:     start.Add(time.Hour),
	}
}

// createTestSeries is a weekly Wednesday 15:00 Warsaw series of four
// occurrences starting 2020-06-03.
func createTestSeries(t *testing.T) model.Item {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2020, 6, 3, 15, 0, 0, 0, loc)
	return model.Item{
		Kind:     model.KindAppointment,
		Subject:  "Standup",
		Start:    start,
		End:      start.Add(90 * time.Minute),
		TimeZone: "Europe/Warsaw",
		Series: &recurrence.Series{
			Recurrence: []string{"RRULE:FREQ=WEEKLY;COUNT=4;BYDAY=WE"},
			Start:      recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
			End:        recurrence.EventTime{DateTime: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
			Summary:    "Standup",
		},
	}
}
