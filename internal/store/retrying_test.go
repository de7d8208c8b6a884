package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/retry"
	"github.com/roach88/pimsync/internal/store"
	"github.com/roach88/pimsync/internal/store/mocks"
)

func fastSettings() store.RetrySettings {
	return store.RetrySettings{
		RateLimitInitial:    time.Millisecond,
		RateLimitMax:        2 * time.Millisecond,
		RateLimitMultiplier: 2,
		RateLimitAttempts:   4,
		TransportAttempts:   2,
		TransportWait:       time.Millisecond,
	}
}

func TestWithRetry_RateLimitedCreateSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	item := model.Item{Kind: model.KindContact, Name: "Ada"}

	gomock.InOrder(
		inner.EXPECT().Create(gomock.Any(), item).Return(model.Item{}, fmt.Errorf("429: %w", store.ErrRateLimited)).Times(2),
		inner.EXPECT().Create(gomock.Any(), item).Return(model.Item{ID: "s-1", Name: "Ada"}, nil),
	)

	s := store.WithRetry(inner, store.NewRetrier(fastSettings(), nil))
	got, err := s.Create(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)
}

func TestWithRetry_RateLimitExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	inner.EXPECT().Update(gomock.Any(), gomock.Any(), "3").Return(model.Item{}, store.ErrRateLimited).Times(4)

	s := store.WithRetry(inner, store.NewRetrier(fastSettings(), nil))
	_, err := s.Update(context.Background(), model.Item{ID: "x"}, "3")
	assert.ErrorIs(t, err, store.ErrRateLimited)
	assert.True(t, retry.IsExhausted(err))
}

func TestWithRetry_TransportRetriedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	inner.EXPECT().Delete(gomock.Any(), "x").Return(store.ErrTransport).Times(2)

	s := store.WithRetry(inner, store.NewRetrier(fastSettings(), nil))
	err := s.Delete(context.Background(), "x")
	assert.ErrorIs(t, err, store.ErrTransport)
	assert.True(t, retry.IsExhausted(err))
}

func TestWithRetry_NotFoundNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	inner.EXPECT().Delete(gomock.Any(), "x").Return(store.ErrNotFound).Times(1)
	inner.EXPECT().Get(gomock.Any(), "y").Return(nil, store.ErrUnauthorized).Times(1)

	s := store.WithRetry(inner, store.NewRetrier(fastSettings(), nil))
	assert.ErrorIs(t, s.Delete(context.Background(), "x"), store.ErrNotFound)
	_, err := s.Get(context.Background(), "y")
	assert.ErrorIs(t, err, store.ErrUnauthorized)
	assert.False(t, retry.IsExhausted(err))
}

func TestWithRetry_ListAllThroughDecorator(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	f := store.Filter{PageSize: 1}
	gomock.InOrder(
		inner.EXPECT().List(gomock.Any(), f, "").Return(store.Page{Items: []model.Item{{ID: "a"}}, NextPageToken: "a"}, nil),
		inner.EXPECT().List(gomock.Any(), f, "a").Return(store.Page{}, store.ErrTransport),
		inner.EXPECT().List(gomock.Any(), f, "a").Return(store.Page{Items: []model.Item{{ID: "b"}}}, nil),
	)

	items, err := store.ListAll(context.Background(), store.WithRetry(inner, store.NewRetrier(fastSettings(), nil)), f)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestListAll_StuckToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	inner.EXPECT().List(gomock.Any(), gomock.Any(), "").Return(store.Page{NextPageToken: "t"}, nil)
	inner.EXPECT().List(gomock.Any(), gomock.Any(), "t").Return(store.Page{NextPageToken: "t"}, nil)

	_, err := store.ListAll(context.Background(), inner, store.Filter{})
	assert.Error(t, err)
}
