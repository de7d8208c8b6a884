// Package engine implements the pimsync reconciliation pass.
//
// A pass has four stages:
//
//  1. List: both stores are drained page by page through the retrying
//     decorator.
//  2. Match: the Matcher partitions all items into Matches using the
//     identity links stored in item metadata, deduplicating competing links
//     and pairing unlinked items heuristically. Before a Match is resolved,
//     dangling links are confirmed and a recurring Secondary item gets its
//     instance overrides attached, so it carries its full exception set.
//  3. Resolve: the Resolver turns each Match into one Action under the
//     configured SyncPolicy. Merge policies compare edits made since the
//     last sync, as recorded by the link package.
//  4. Apply: the Executor performs the Action, translating recurrence
//     between the two native models and stamping reciprocal links. If an
//     item vanished before the write, the Match is resolved again.
//
// Matches are processed one at a time, in Match key order, in the calling
// goroutine. Failures stay with their Match (see MatchError) except FATAL
// ones, which abort the pass. Every applied Match is recorded in the pass
// Summary, stamped by the logical Clock.
package engine
