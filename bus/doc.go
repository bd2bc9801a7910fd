// Package bus tracks attached clients and pushes notifications to them.
//
// # Overview
//
// Connections is the registry of push-capable clients, keyed by address.
// Each attach is assigned a sequential client id which is sent once, to the
// new client only, as an "id" notification.
//
// Bus serializes a Notification once and pushes it to every attached client.
// Delivery is best-effort and independent per recipient: a failed send is
// logged and skipped, never retried, and never stops the broadcast.
//
// # Notifications
//
//	{"key": <client id>,  "operation": "id",      "meta": null}
//	{"key": <object key>, "operation": "update",  "meta": null}
//	{"key": <object key>, "operation": "delete",  "meta": null}
//	{"key": null,         "operation": "control", "meta": <any JSON>}
//	{"key": null,         "operation": "query",   "meta": null}
//
// # Mirrors
//
// A Bus may also republish every broadcast to a Mirror on the subject
// "<prefix>.<operation>", so processes that are not websocket clients can
// observe hub activity:
//
//   - NATSMirror: publishes to a NATS server
//   - MemoryMirror: in-process fan-out, used in tests
//
// Mirrors are write-only from the hub's point of view; nothing received on a
// mirror subject flows back into the hub.
package bus
