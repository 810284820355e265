// Package harness runs reconciliation scenarios against the in-memory
// driver and checks the resulting event trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: contact_rename
//	description: "A renamed contact emits contact-name"
//	policy: policy.cue            # optional, relative to the scenario file
//	options:
//	  sync_max_retry: 3
//	seed:                         # stored in the driver and loaded into the pool
//	  - kind: contact
//	    id: c1
//	    payload: { name: Alice }
//	backend:                      # stored in the driver only
//	  - kind: tag
//	    id: t1
//	    payload: { name: vip }
//	steps:
//	  - set: { kind: contact, id: c1, payload: { name: Alicia } }
//	  - dirty: { kind: contact, id: c1 }
//	assertions:
//	  - type: event_emitted
//	    name: contact-name
//	    args: [{ kind: contact, id: c1 }, Alicia, Alice]
//
// Steps run one at a time, in order. A step is exactly one of set, delete,
// fail, dirty or tag.
//
// # Assertion Types
//
//   - event_emitted: an event with the name (and optional bus and leading
//     args) was emitted
//   - event_order: the first occurrences of names appear in order
//   - event_count: an event was emitted exactly count times
//   - error_reported: errors with a code were reported exactly count times
//   - final_payload: the pooled entity holds the expected fields
//   - pass_count: the journal holds count passes with a status
//
// # Determinism
//
// Each run uses a fresh journal, a fake clock whose waits complete at once,
// and sequential pass ids ("pass-1", "pass-2", ...), so traces are stable
// enough for golden comparison.
package harness
