package engine

import (
	"fmt"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/store"
)

// DefaultSecondaryMaxPayload is the Secondary store's payload ceiling when
// none is configured.
const DefaultSecondaryMaxPayload = 102400

// PayloadQuota enforces the per-store payload ceilings before any remote
// call is made.
//
// The size checked is model.PayloadSize: the store-reported size when
// known, otherwise the byte length of the free-text fields. A zero limit
// means the store has no ceiling.
type PayloadQuota struct {
	limits map[model.Side]int
}

// NewPayloadQuota creates a quota from per-side limits.
func NewPayloadQuota(primary, secondary int) *PayloadQuota {
	return &PayloadQuota{limits: map[model.Side]int{
		model.Primary:   primary,
		model.Secondary: secondary,
	}}
}

// Limit returns the ceiling for side, or 0.
func (q *PayloadQuota) Limit(side model.Side) int {
	if q == nil {
		return 0
	}
	return q.limits[side]
}

// Check returns a PayloadTooLargeError when it is too large for side.
func (q *PayloadQuota) Check(side model.Side, it *model.Item) error {
	limit := q.Limit(side)
	if limit <= 0 {
		return nil
	}
	if size := model.PayloadSize(it); size > limit {
		return &PayloadTooLargeError{Side: side, Item: it.ID, Size: size, Limit: limit}
	}
	return nil
}

// PayloadTooLargeError reports an item over a store's payload ceiling.
// It matches store.ErrPayloadTooLarge with errors.Is, so a local rejection
// and a store rejection are handled alike.
type PayloadTooLargeError struct {
	Side  model.Side
	Item  string
	Size  int
	Limit int
}

// Error implements the error interface.
func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("item %s is %d bytes, %s limit is %d", e.Item, e.Size, e.Side, e.Limit)
}

// Unwrap links the error to store.ErrPayloadTooLarge.
func (e *PayloadTooLargeError) Unwrap() error { return store.ErrPayloadTooLarge }
