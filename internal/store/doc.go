// Package store defines the capability both sides of a sync expose and
// ships a SQLite-backed implementation of it.
//
// # Capability
//
// Store is the narrow interface the engine needs: paginated listing with a
// kind and date-window filter, Get, Create, Update with an expected version,
// Delete, and ListInstances for recurring series. Remote failures are
// reported with the sentinel errors in errors.go so the engine and the
// retry layer can classify them without knowing the transport.
//
// WithRetry wraps any Store so every call goes through a retry.Retrier.
//
// # SQLite store
//
// Items are rows with a JSON payload and a JSON metadata column. Instance
// overrides of instance-based series live in their own table and are not
// part of the master's payload; ListInstances expands the series and
// applies them. Listing is keyset-paginated on id. Every write bumps an
// integer version; Update with a stale version fails with
// ErrVersionConflict.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
