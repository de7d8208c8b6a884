// Package link stores the identity link between a Primary and a Secondary
// item in the items' own metadata.
//
// A link is reciprocal when each item names the other. Writing both sides
// is not atomic: the executor saves the target with its link stamped, then
// saves the source. If the second save fails the pair is one-sided until
// the next pass, where the matcher detects and repairs it.
//
// Every write the sync makes also records the item's content fingerprint
// under KeySynced. A later pass compares it with the item's current
// fingerprint to tell a user's edit from a write that only touched link
// metadata, which bumps the store's modified time all the same.
package link

import (
	"time"

	"github.com/roach88/pimsync/internal/model"
)

// Metadata keys.
const (
	KeySecondaryID = "pimsync.secondaryId" // on Primary items
	KeyPrimaryID   = "pimsync.primaryId"   // on Secondary items
	KeyLinkedAt    = "pimsync.linkedAt"
	KeySynced      = "pimsync.syncedContent"
)

// State classifies a candidate pair.
type State int

const (
	None State = iota
	Linked
	OneSidedPrimary   // only the Primary item names its counterpart
	OneSidedSecondary // only the Secondary item names its counterpart
)

func (s State) String() string {
	switch s {
	case Linked:
		return "linked"
	case OneSidedPrimary:
		return "one-sided-primary"
	case OneSidedSecondary:
		return "one-sided-secondary"
	}
	return "none"
}

func keyFor(side model.Side) string {
	if side == model.Primary {
		return KeySecondaryID
	}
	return KeyPrimaryID
}

// Resolve returns the counterpart ID recorded on an item held by side.
func Resolve(side model.Side, it *model.Item) (string, bool) {
	if it == nil {
		return "", false
	}
	id := it.Meta(keyFor(side))
	return id, id != ""
}

// Stamp records counterpartID on an item held by side.
func Stamp(side model.Side, it *model.Item, counterpartID string, at time.Time) {
	it.SetMeta(keyFor(side), counterpartID)
	it.SetMeta(KeyLinkedAt, at.UTC().Format(time.RFC3339))
}

// Link stamps reciprocal metadata on both items. It mutates the items only;
// persisting them is the caller's job.
func Link(primary, secondary *model.Item, at time.Time) {
	Stamp(model.Primary, primary, secondary.ID, at)
	Stamp(model.Secondary, secondary, primary.ID, at)
}

// Unlink clears link metadata from an item held by side. It reports
// whether anything changed.
func Unlink(side model.Side, it *model.Item) bool {
	if _, ok := Resolve(side, it); !ok && it.Meta(KeyLinkedAt) == "" {
		return false
	}
	it.SetMeta(keyFor(side), "")
	it.SetMeta(KeyLinkedAt, "")
	it.SetMeta(KeySynced, "")
	return true
}

// MarkSynced records the item's current content as the last synced state.
func MarkSynced(it *model.Item) error {
	fp, err := model.Fingerprint(it)
	if err != nil {
		return err
	}
	it.SetMeta(KeySynced, fp)
	return nil
}

// Synced reports whether the item's content is unchanged since the last
// sync wrote or stamped it. Items without a record are not synced.
func Synced(it *model.Item) bool {
	if it == nil {
		return false
	}
	rec := it.Meta(KeySynced)
	if rec == "" {
		return false
	}
	fp, err := model.Fingerprint(it)
	return err == nil && fp == rec
}

// Current reports whether an item held by side already names counterpartID
// and carries an up-to-date sync record, so stamping it again changes nothing
// but the link time.
func Current(side model.Side, it *model.Item, counterpartID string) bool {
	id, ok := Resolve(side, it)
	return ok && id == counterpartID && Synced(it)
}

// Classify reports the link state between two items.
func Classify(primary, secondary *model.Item) State {
	p, pok := Resolve(model.Primary, primary)
	s, sok := Resolve(model.Secondary, secondary)
	toS := pok && secondary != nil && p == secondary.ID
	toP := sok && primary != nil && s == primary.ID
	switch {
	case toS && toP:
		return Linked
	case toS:
		return OneSidedPrimary
	case toP:
		return OneSidedSecondary
	}
	return None
}

// Reciprocal reports whether both items name each other.
func Reciprocal(primary, secondary *model.Item) bool {
	return Classify(primary, secondary) == Linked
}
