// Package errors provides the structured error taxonomy of objecthub.
//
// # Error Categories
//
//   - Transient: a push to one client failed, a reply window elapsed
//   - Permanent: unknown key, malformed request, hub is read-only
//   - Internal: unreadable persisted record, failed durability write, panics
//
// # Error Codes
//
//   - NOT_FOUND: read of an unknown key (absence, never a crash)
//   - READ_ONLY: mutation rejected by read-only mode, with no state change
//   - INVALID_INPUT: malformed request body or missing key
//   - CORRUPTION: persisted metadata file could not be decoded
//   - NETWORK_ERR: a push to a single client failed
//   - TIMEOUT, CANCELED, UNAVAILABLE, UNSUPPORTED, INTERNAL, PANIC
//
// Read-only rejections and not-found are distinct codes so transports can
// report them distinctly (403 and 404 over HTTP).
//
// # Usage
//
//	if hub.ReadOnly() {
//	    return errors.ReadOnly("update", errors.WithKey(key))
//	}
//
//	if errors.IsNotFound(err) {
//	    http.NotFound(w, r)
//	}
//
// Errors marshal to JSON so they can be returned verbatim to HTTP callers:
//
//	{"success":false,"code":"READ_ONLY","category":"permanent",...}
package errors
