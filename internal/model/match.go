package model

import "github.com/roach88/pimsync/internal/recurrence"

// Match is the unit of work of one pass: at most one item from each side.
type Match struct {
	Primary   *Item
	Secondary *Item

	// Exceptions is the canonical exception set of a recurring Secondary
	// series, built from its instance overrides.
	Exceptions []recurrence.Exception

	// LinkExisted is set when a present item links to a counterpart that
	// no longer exists.
	LinkExisted bool
	// NeedsLink is set when the pair must be (re)stamped with reciprocal
	// links: heuristic pairs and one-sided links.
	NeedsLink bool
	// Demoted marks a duplicate that lost deduplication. Its link is
	// cleared and nothing else happens to it this pass.
	Demoted bool
}

// Item returns the item on side, or nil.
func (m *Match) Item(side Side) *Item {
	if side == Primary {
		return m.Primary
	}
	return m.Secondary
}

// Kind returns the kind of whichever item is present.
func (m *Match) Kind() Kind {
	if m.Primary != nil {
		return m.Primary.Kind
	}
	if m.Secondary != nil {
		return m.Secondary.Kind
	}
	return ""
}

// Key is a stable identifier for logs and ordering.
func (m *Match) Key() string {
	p, s := "-", "-"
	if m.Primary != nil {
		p = m.Primary.ID
	}
	if m.Secondary != nil {
		s = m.Secondary.ID
	}
	return p + "|" + s
}
