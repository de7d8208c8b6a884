// Package recurrence translates repeating appointments between the two
// stores' recurrence models.
//
// # Models
//
// The canonical model is a Rule (frequency, interval, BYxxx constraints,
// start anchor, end condition) plus a list of Exceptions. An Exception is
// a tagged variant: Modified (an occurrence moved or renamed) or Deleted
// (an occurrence removed). Both are keyed by the ORIGINAL, unmodified start
// of the occurrence, expressed in UTC, so an exception stays addressable
// after its displayed time changes.
//
// The Primary store is rule-based: a Pattern with a pattern type, a day
// mask and a list of exception records flagged deleted or not. The
// Secondary store is instance-based: a Series carrying RRULE text and
// separate Instance overrides, where a deleted occurrence is an instance
// whose status is "cancelled".
//
// # Time
//
// Occurrences are generated on the wall clock of the rule's named zone and
// compared as UTC instants. A series anchored at 15:00 Europe/Warsaw is at
// 13:00Z in summer and 14:00Z in winter. All-day series use date-only
// values (midnight UTC) and whole-day durations.
//
// # Failure
//
// Shapes a store cannot represent fail with ErrUnsupportedRecurrence.
// Nothing is rounded.
package recurrence
