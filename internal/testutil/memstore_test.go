package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/store"
)

func createTestMemoryStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	clock := NewDeterministicClock(testBase, time.Minute)
	return NewMemoryStore("mem", append([]MemoryOption{WithMemoryClock(clock.Now)}, opts...)...)
}

func makeTestSeries(t *testing.T) model.Item {
	t.Helper()
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	start := time.Date(2020, 6, 3, 15, 0, 0, 0, warsaw)
	return model.Item{
		Kind:     model.KindAppointment,
		Subject:  "Standup",
		Start:    start,
		End:      start.Add(90 * time.Minute),
		TimeZone: "Europe/Warsaw",
		Series: &recurrence.Series{
			Recurrence: []string{"RRULE:FREQ=WEEKLY;COUNT=3;BYDAY=WE"},
			Start:      recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
			End:        recurrence.EventTime{DateTime: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
			Summary:    "Standup",
			Instances: []recurrence.Instance{{
				OriginalStart: recurrence.EventTime{DateTime: start.AddDate(0, 0, 7), TimeZone: "Europe/Warsaw"},
				Start:         recurrence.EventTime{DateTime: start.AddDate(0, 0, 7), TimeZone: "Europe/Warsaw"},
				End:           recurrence.EventTime{DateTime: start.AddDate(0, 0, 7).Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
				Status:        recurrence.StatusCancelled,
			}},
		},
	}
}

func TestMemoryStore_CreateAssignsIdentity(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "mem-001", created.ID)
	assert.Equal(t, "1", created.Version)
	assert.Equal(t, testBase, created.Created)
	assert.Equal(t, created.Created, created.Modified)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_UpdateChecksVersion(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	require.NoError(t, err)

	created.Name = "Ada L."
	updated, err := s.Update(ctx, created, "1")
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Version)
	assert.True(t, updated.Modified.After(created.Modified))

	_, err = s.Update(ctx, created, "1")
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	_, err = s.Update(ctx, model.Item{ID: "missing"}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_DeleteMissing(t *testing.T) {
	s := createTestMemoryStore(t)
	err := s.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_GetMissingIsNil(t *testing.T) {
	s := createTestMemoryStore(t)
	it, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestMemoryStore_ListPaginates(t *testing.T) {
	s := createTestMemoryStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		s.Put(model.Item{ID: name, Kind: model.KindContact, Name: name})
	}

	all, err := store.ListAll(context.Background(), s, store.Filter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "e", all[4].ID)
	assert.Equal(t, 3, s.CallCount(OpList))
}

func TestMemoryStore_ListFiltersKindAndWindow(t *testing.T) {
	s := createTestMemoryStore(t)
	s.Put(model.Item{ID: "c1", Kind: model.KindContact, Name: "Ada"})
	s.Put(model.Item{ID: "a1", Kind: model.KindAppointment, Subject: "in",
		Start: testBase.Add(time.Hour), End: testBase.Add(2 * time.Hour)})
	s.Put(model.Item{ID: "a2", Kind: model.KindAppointment, Subject: "out",
		Start: testBase.AddDate(1, 0, 0), End: testBase.AddDate(1, 0, 0).Add(time.Hour)})

	filter := store.Filter{
		Kinds:  []model.Kind{model.KindAppointment},
		Window: store.TimeRange{From: testBase, To: testBase.AddDate(0, 1, 0)},
	}
	all, err := store.ListAll(context.Background(), s, filter)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a1", all[0].ID)
}

func TestMemoryStore_HidesOverridesOutsideListInstances(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx := context.Background()
	series := s.Put(makeTestSeries(t))

	got, err := s.Get(ctx, series.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Series.Instances)
	assert.Len(t, s.Item(series.ID).Series.Instances, 1)

	visible, err := s.ListInstances(ctx, series.ID, store.TimeRange{}, false)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	withDeleted, err := s.ListInstances(ctx, series.ID, store.TimeRange{}, true)
	require.NoError(t, err)
	require.Len(t, withDeleted, 3)
	assert.True(t, withDeleted[1].Cancelled)
}

func TestMemoryStore_FaultInjection(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx := context.Background()
	s.Inject(Fault{Op: OpCreate, Err: store.ErrRateLimited, Times: 2})

	_, err := s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	assert.ErrorIs(t, err, store.ErrRateLimited)
	_, err = s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	assert.ErrorIs(t, err, store.ErrRateLimited)
	_, err = s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	require.NoError(t, err)

	assert.Equal(t, 3, s.CallCount(OpCreate))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_FaultForIDOnly(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx := context.Background()
	s.Put(model.Item{ID: "x", Kind: model.KindContact})
	s.Put(model.Item{ID: "y", Kind: model.KindContact})
	s.Inject(Fault{Op: OpDelete, ID: "x", Err: store.ErrUnauthorized})

	assert.ErrorIs(t, s.Delete(ctx, "x"), store.ErrUnauthorized)
	assert.ErrorIs(t, s.Delete(ctx, "x"), store.ErrUnauthorized)
	assert.NoError(t, s.Delete(ctx, "y"))

	s.ClearFaults()
	assert.NoError(t, s.Delete(ctx, "x"))
}

func TestMemoryStore_PayloadCeiling(t *testing.T) {
	s := createTestMemoryStore(t, WithMemoryMaxPayload(10))
	_, err := s.Create(context.Background(), model.Item{Kind: model.KindContact, Body: "far more than ten bytes"})
	assert.ErrorIs(t, err, store.ErrPayloadTooLarge)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := createTestMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_HookSeesCalls(t *testing.T) {
	var seen []Op
	s := createTestMemoryStore(t, WithMemoryHook(func(op Op, id string) {
		seen = append(seen, op)
	}))
	ctx := context.Background()

	created, err := s.Create(ctx, model.Item{Kind: model.KindContact, Name: "Ada"})
	require.NoError(t, err)
	_, err = s.Get(ctx, created.ID)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, created.ID)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []Op{OpCreate, OpGet}, seen)
}
