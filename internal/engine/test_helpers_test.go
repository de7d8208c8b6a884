package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/retry"
	"github.com/roach88/pimsync/internal/store"
	"github.com/roach88/pimsync/internal/testutil"
)

var testNow = time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetrier retries without waiting: rate limits three attempts,
// transport faults two.
func fastRetrier() *retry.Retrier {
	return retry.New(discardLogger(),
		retry.Fixed("rate-limit", store.IsRateLimited, 0, 3),
		retry.Fixed("transport", store.IsTransport, 0, 2),
	)
}

type testStores struct {
	primary   *testutil.MemoryStore
	secondary *testutil.MemoryStore
	clock     *testutil.DeterministicClock
}

func setupTestStores(t *testing.T, opts ...testutil.MemoryOption) *testStores {
	t.Helper()
	clock := testutil.NewDeterministicClock(testNow, time.Minute)
	withClock := append([]testutil.MemoryOption{testutil.WithMemoryClock(clock.Now)}, opts...)
	return &testStores{
		primary:   testutil.NewMemoryStore("p", testutil.WithMemoryClock(clock.Now)),
		secondary: testutil.NewMemoryStore("s", withClock...),
		clock:     clock,
	}
}

func createTestEngine(t *testing.T, ts *testStores, cfg Config, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithNow(ts.clock.Now),
		WithPassIDs(NewFixedGenerator("pass-1", "pass-2", "pass-3")),
		WithLogger(discardLogger()),
		WithRetrier(fastRetrier()),
	}
	return New(ts.primary, ts.secondary, cfg, append(base, opts...)...)
}

func createTestExecutor(ts *testStores, quota *PayloadQuota) *Executor {
	return NewExecutor(
		store.WithRetry(ts.primary, fastRetrier()),
		store.WithRetry(ts.secondary, fastRetrier()),
		quota,
		WithExecutorClock(ts.clock.Now),
		WithExecutorLogger(discardLogger()),
	)
}

func makeTestContact(id, name, email string, created time.Time) model.Item {
	return model.Item{
		ID:       id,
		Kind:     model.KindContact,
		Name:     name,
		Email:    email,
		Created:  created,
		Modified: created,
		Version:  "1",
	}
}

func makeTestAppointment(id, subject string, start time.Time) model.Item {
	return model.Item{
		ID:       id,
		Kind:     model.KindAppointment,
		Subject:  subject,
		Start:    start,
		End:      start.Add(time.Hour),
		TimeZone: "UTC",
		Created:  testNow.Add(-time.Hour),
		Modified: testNow.Add(-time.Hour),
		Version:  "1",
	}
}

// linkedTo returns it with a link to counterpart recorded for side.
func linkedTo(it model.Item, side model.Side, counterpart string) model.Item {
	c := it.Clone()
	link.Stamp(side, c, counterpart, testNow.Add(-24*time.Hour))
	return *c
}

func warsaw(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	return loc
}

// makeTestWeeklyPattern is the Wednesday 15:00-16:30 Warsaw series ending
// 2020-06-10, with its first occurrence moved to 16:00-17:30.
func makeTestWeeklyPattern(t *testing.T, id string) model.Item {
	t.Helper()
	start := time.Date(2020, 6, 3, 15, 0, 0, 0, warsaw(t))
	return model.Item{
		ID:       id,
		Kind:     model.KindAppointment,
		Subject:  "Planning",
		Start:    start,
		End:      start.Add(90 * time.Minute),
		TimeZone: "Europe/Warsaw",
		Created:  testNow.Add(-time.Hour),
		Modified: testNow.Add(-time.Hour),
		Version:  "1",
		Pattern: &recurrence.Pattern{
			Type:          recurrence.PatternWeekly,
			Interval:      1,
			DayOfWeekMask: recurrence.MaskOf(time.Wednesday),
			Start:         start,
			Duration:      90 * time.Minute,
			TimeZone:      "Europe/Warsaw",
			EndDate:       time.Date(2020, 6, 10, 0, 0, 0, 0, time.UTC),
			Exceptions: []recurrence.PatternException{{
				OriginalDate: start,
				Start:        start.Add(time.Hour),
				End:          start.Add(150 * time.Minute),
			}},
		},
	}
}

// recordingRecorder counts what the engine reports.
type recordingRecorder struct {
	results []Result
	passes  int
	lastErr error
}

func (r *recordingRecorder) ObserveResult(res Result) { r.results = append(r.results, res) }

func (r *recordingRecorder) ObservePass(_ *Summary, _ time.Duration, err error) {
	r.passes++
	r.lastErr = err
}

// createCancelledInstance cancels the occurrence originally at original.
func createCancelledInstance(original time.Time, d time.Duration) []recurrence.Instance {
	at := func(t time.Time) recurrence.EventTime {
		return recurrence.EventTime{DateTime: t, TimeZone: original.Location().String()}
	}
	return []recurrence.Instance{{
		OriginalStart: at(original),
		Start:         at(original),
		End:           at(original.Add(d)),
		Status:        recurrence.StatusCancelled,
	}}
}
