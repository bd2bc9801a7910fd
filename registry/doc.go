// Package registry owns the hub's object records.
//
// # Overview
//
// An object is identified by a caller-chosen key and an id assigned on first
// creation. Ids increase monotonically and are never reused, even after the
// object is deleted. Each object carries optional metadata (a JSON document)
// and an optional binary payload.
//
// # Update semantics
//
// Update(key, meta, data) with both arguments nil deletes the object.
// Otherwise it creates the object if needed, replaces whichever of meta and
// data were supplied, refreshes the derived metadata fields, persists the
// record and broadcasts an "update" notification. The broadcast is skipped
// while the object has no metadata, so a payload may be uploaded before the
// metadata that advertises it.
//
// Derived metadata fields:
//
//	updated   time of this mutation, seconds since the epoch
//	path      "" unless supplied
//	has_data  whether a payload is present
//	last_data time of the last payload write, 0 if never
//
// # Locking
//
// The key map and id counter sit behind one registry-wide mutex that is held
// only to look up, insert or remove a record. Field mutation, persistence and
// the resulting broadcast run under the record's own mutex, so updates to
// different keys proceed in parallel while updates to one key are serialized.
package registry
