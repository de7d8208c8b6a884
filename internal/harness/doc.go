// Package harness runs sync scenarios against the real engine.
//
// A scenario seeds two in-memory stores, optionally injects faults, runs
// one or more passes and then checks the summary counts and the final
// contents of both stores.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  policy: merge-primary-wins
//	  delete_enabled: false
//	primary:
//	  - id: p1
//	    kind: contact
//	    name: Ada
//	    link: s1
//	secondary:
//	  - id: s1
//	    kind: appointment
//	    subject: Planning
//	    start: 2020-06-03T15:00:00+02:00
//	    end: 2020-06-03T16:30:00+02:00
//	    time_zone: Europe/Warsaw
//	    rrule: "RRULE:FREQ=WEEKLY;COUNT=3;BYDAY=WE"
//	faults:
//	  - store: secondary
//	    op: create
//	    error: rate_limited
//	    times: 3
//	passes: 2
//	expect:
//	  summary: { created: 1, failed: 0 }
//	assertions:
//	  - type: entry
//	    match: "p1|-"
//	    outcome: created
//	  - type: item_count
//	    store: secondary
//	    count: 1
//
// # Assertion Types
//
//   - entry: a summary entry for the match with the given outcome, action or code
//   - item_count: number of items held by a store
//   - item: field values of one stored item (subset match)
//   - linked: a reciprocal link between a Primary and a Secondary item
//   - unlinked: an item carries no link
//   - call_count: number of store calls of one operation
//
// # Deterministic Testing
//
// Store timestamps come from testutil.DeterministicClock, pass IDs are
// fixed ("pass-1", "pass-2", ...) and retries do not sleep, so traces are
// identical across runs and can be compared with golden files.
package harness
