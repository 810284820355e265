// Package reconcile turns dirty signals into field-level events.
//
// A dirty signal says the cached payload of one entity may be stale. The
// Orchestrator resolves the entity, snapshots its payload, forces a refresh,
// snapshots again, diffs the two and classifies the differences:
//
//   - Regular differences are folded into one "update" event.
//   - Each important difference is dispatched to a field handler registered
//     for (kind, field). Handlers emit their own events and may resolve
//     related entities (tags, room owners) through the registry.
//
// Every event goes to the global bus; events about one entity also go to
// that entity's own bus. Global names are prefixed with the kind
// ("contact-name"), entity bus names are not ("name").
//
// # Failure model
//
// HandleDirty never returns an error and never panics. Failures, including
// panics raised by listeners, are wrapped in *Error and sent to the error
// reporter. A failed pass emits nothing further; a failed field handler
// does not stop its siblings.
//
// # Concurrency
//
// Passes for different entities run concurrently. Passes for the same
// entity are not serialized unless WithSerializedPasses is set, in which
// case they queue on a per-entity lock.
package reconcile
