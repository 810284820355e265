// Package payload provides the value model for entity snapshots.
//
// A Snapshot is the field map a driver returns for one entity (a contact,
// room, tag, ...). Values are a sealed set of types: Null, String, Int,
// Float, Bool, List and Object. A field that is absent from a Snapshot is
// "undefined" and is represented by a nil Value, never by Null.
//
// This package imports nothing internal. diff, classify, puppet, entity and
// reconcile all build on it.
//
// Composite values (List, Object) are carried across package boundaries in
// their canonical string form (RFC 8785 style JSON, see MarshalCanonical) so
// that two equal structures always render to identical bytes.
package payload
