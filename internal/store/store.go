package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/pimsync/internal/model"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/roach88/pimsync/internal/store Store

// Store is the capability one side of a sync exposes.
type Store interface {
	// List returns one page of items matching filter. An empty pageToken
	// starts from the beginning; an empty Page.NextPageToken ends listing.
	List(ctx context.Context, filter Filter, pageToken string) (Page, error)
	// Get returns the item, or nil and no error when it does not exist.
	Get(ctx context.Context, id string) (*model.Item, error)
	// Create stores a new item and returns it with ID, Version and
	// timestamps assigned.
	Create(ctx context.Context, item model.Item) (model.Item, error)
	// Update replaces an item. A non-empty expectedVersion that does not
	// match fails with ErrVersionConflict.
	Update(ctx context.Context, item model.Item, expectedVersion string) (model.Item, error)
	// Delete removes an item. Missing items fail with ErrNotFound.
	Delete(ctx context.Context, id string) error
	// ListInstances expands a recurring item over window. Cancelled
	// occurrences are included only when includeDeleted is set.
	ListInstances(ctx context.Context, recurringID string, window TimeRange, includeDeleted bool) ([]model.Item, error)
}

// TimeRange is a half-open interval [From, To). A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Overlaps reports whether [start, end) intersects the range. A zero end
// means the span has no end.
func (r TimeRange) Overlaps(start, end time.Time) bool {
	if !r.To.IsZero() && !start.Before(r.To) {
		return false
	}
	if !r.From.IsZero() && !end.IsZero() && !end.After(r.From) {
		return false
	}
	return true
}

// Filter narrows List. Contacts ignore Window.
type Filter struct {
	Kinds    []model.Kind
	Window   TimeRange
	PageSize int
}

// Includes reports whether kind passes the filter.
func (f Filter) Includes(kind model.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Page is one List result.
type Page struct {
	Items         []model.Item
	NextPageToken string
}

// maxPages guards ListAll against a store that never stops paginating.
const maxPages = 100000

// ListAll drains every page of List.
func ListAll(ctx context.Context, s Store, filter Filter) ([]model.Item, error) {
	var all []model.Item
	token := ""
	for i := 0; i < maxPages; i++ {
		page, err := s.List(ctx, filter, token)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", i+1, err)
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			return all, nil
		}
		if page.NextPageToken == token {
			return nil, fmt.Errorf("list page %d: page token did not advance", i+1)
		}
		token = page.NextPageToken
	}
	return nil, fmt.Errorf("list: more than %d pages", maxPages)
}
