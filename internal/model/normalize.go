package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeKey prepares a string for identity comparison: NFC, Unicode
// case folding, whitespace collapsed.
func NormalizeKey(s string) string {
	s = norm.NFC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// IdentityKey is the heuristic matching key for an unlinked item, or "" if
// the item has nothing to match on. Contacts use email, falling back to
// display name. Appointments use subject plus the series anchor start.
func IdentityKey(it *Item) string {
	switch it.Kind {
	case KindContact:
		if e := NormalizeKey(it.Email); e != "" {
			return "email:" + e
		}
		if n := NormalizeKey(it.Name); n != "" {
			return "name:" + n
		}
		return ""
	case KindAppointment:
		subject := NormalizeKey(it.Subject)
		start := it.Start
		switch {
		case it.Pattern != nil:
			start = it.Pattern.Start
		case it.Series != nil:
			if t, err := it.Series.Start.Instant(); err == nil {
				start = t
			}
		}
		if subject == "" && start.IsZero() {
			return ""
		}
		return "appt:" + subject + "|" + formatInstant(start, it.AllDay)
	}
	return ""
}

// FallbackKey is the secondary heuristic key: a contact's display name,
// used when email keys found no partner. It is "" for anything else.
func FallbackKey(it *Item) string {
	if it.Kind != KindContact {
		return ""
	}
	if n := NormalizeKey(it.Name); n != "" {
		return "name:" + n
	}
	return ""
}
