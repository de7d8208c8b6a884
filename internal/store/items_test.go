package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
)

func TestCreate_AssignsStoreFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	it := createTestContact("Ada", "ada@example.com")
	it.SetMeta("pimsync.primaryId", "p-1")
	created, err := s.Create(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, "id-001", created.ID)
	assert.Equal(t, "1", created.Version)
	assert.True(t, created.Created.Equal(testNow))

	got, err := s.Get(ctx, "id-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "p-1", got.Meta("pimsync.primaryId"))
	assert.Equal(t, "1", got.Version)
}

func TestGet_MissingReturnsNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate_OptimisticConcurrency(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, createTestContact("Ada", "ada@example.com"))
	require.NoError(t, err)

	created.Name = "Ada King"
	updated, err := s.Update(ctx, created, "1")
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Version)
	assert.True(t, updated.Created.Equal(testNow))

	created.Name = "Stale"
	_, err = s.Update(ctx, created, "1")
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.Update(ctx, created, "")
	assert.NoError(t, err, "empty expected version skips the check")

	_, err = s.Update(ctx, model.Item{ID: "missing", Kind: model.KindContact}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, createTestSeries(t))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, created.ID))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.Delete(ctx, created.ID), ErrNotFound)
}

func TestCreate_PayloadCeiling(t *testing.T) {
	s := createTestStore(t, WithMaxPayload(1024))
	it := createTestContact("Ada", "ada@example.com")
	it.Body = strings.Repeat("x", 2000)
	_, err := s.Create(context.Background(), it)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestList_PaginatesByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, createTestContact("c", ""))
		require.NoError(t, err)
	}

	page, err := s.List(ctx, Filter{PageSize: 2}, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "id-002", page.NextPageToken)

	page, err = s.List(ctx, Filter{PageSize: 2}, page.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "id-003", page.Items[0].ID)

	all, err := ListAll(ctx, s, Filter{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestList_KindAndWindow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, createTestContact("Ada", "ada@example.com"))
	require.NoError(t, err)
	_, err = s.Create(ctx, createTestAppointment("old", time.Date(2019, 1, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = s.Create(ctx, createTestAppointment("current", time.Date(2020, 6, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = s.Create(ctx, createTestSeries(t))
	require.NoError(t, err)

	window := TimeRange{
		From: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	items, err := ListAll(ctx, s, Filter{Window: window})
	require.NoError(t, err)
	var names []string
	for _, it := range items {
		names = append(names, it.Label())
	}
	assert.ElementsMatch(t, []string{"Ada <ada@example.com>", "current", "Standup"}, names)

	items, err = ListAll(ctx, s, Filter{Kinds: []model.Kind{model.KindContact}, Window: window})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.KindContact, items[0].Kind)

	late := TimeRange{From: time.Date(2020, 7, 2, 0, 0, 0, 0, time.UTC), To: time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)}
	items, err = ListAll(ctx, s, Filter{Kinds: []model.Kind{model.KindAppointment}, Window: late})
	require.NoError(t, err)
	assert.Empty(t, items, "the four-week series ended on 2020-06-24")
}

func TestListInstances_AppliesOverrides(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	series := createTestSeries(t)
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	second := time.Date(2020, 6, 10, 15, 0, 0, 0, loc)
	third := time.Date(2020, 6, 17, 15, 0, 0, 0, loc)
	series.Series.Instances = []recurrence.Instance{
		{
			OriginalStart: recurrence.EventTime{DateTime: second, TimeZone: "Europe/Warsaw"},
			Start:         recurrence.EventTime{DateTime: second, TimeZone: "Europe/Warsaw"},
			End:           recurrence.EventTime{DateTime: second.Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
			Status:        recurrence.StatusCancelled,
		},
		{
			OriginalStart: recurrence.EventTime{DateTime: third, TimeZone: "Europe/Warsaw"},
			Start:         recurrence.EventTime{DateTime: third.Add(time.Hour), TimeZone: "Europe/Warsaw"},
			End:           recurrence.EventTime{DateTime: third.Add(150 * time.Minute), TimeZone: "Europe/Warsaw"},
			Summary:       "Standup (late)",
			Status:        recurrence.StatusConfirmed,
		},
	}
	created, err := s.Create(ctx, series)
	require.NoError(t, err)

	master, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, master.Series.Instances, "overrides are not part of the master")

	window := TimeRange{From: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC)}
	insts, err := s.ListInstances(ctx, created.ID, window, false)
	require.NoError(t, err)
	require.Len(t, insts, 3)
	assert.Equal(t, "Standup (late)", insts[1].Subject)
	assert.True(t, insts[1].Start.Equal(third.Add(time.Hour)))
	assert.True(t, insts[1].OriginalStart.Equal(third))

	insts, err = s.ListInstances(ctx, created.ID, window, true)
	require.NoError(t, err)
	require.Len(t, insts, 4)
	assert.True(t, insts[1].Cancelled)
	assert.Equal(t, created.ID, insts[1].RecurringID)

	overrides, err := Overrides(master, insts)
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, recurrence.StatusCancelled, overrides[0].Status)
	assert.Equal(t, "Standup (late)", overrides[1].Summary)

	_, err = s.ListInstances(ctx, "missing", window, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_ReplacesOverrides(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	series := createTestSeries(t)
	start := series.Start
	series.Series.Instances = []recurrence.Instance{{
		OriginalStart: recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
		Start:         recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
		End:           recurrence.EventTime{DateTime: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
		Status:        recurrence.StatusCancelled,
	}}
	created, err := s.Create(ctx, series)
	require.NoError(t, err)

	created.Series.Instances = nil
	_, err = s.Update(ctx, created, created.Version)
	require.NoError(t, err)

	insts, err := s.ListInstances(ctx, created.ID, TimeRange{}, true)
	require.NoError(t, err)
	require.Len(t, insts, 4)
	for _, inst := range insts {
		assert.False(t, inst.Cancelled)
	}
}
