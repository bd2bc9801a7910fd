// Package query implements the scatter-gather query rendezvous.
//
// Issue snapshots the currently attached clients, registers a Pending query
// and broadcasts a "query" notification. Wait blocks until every snapshotted
// client has replied or the window elapses, whichever comes first, and
// returns the replies collected so far in arrival order.
//
// Every inbound client message is offered to the open pending queries in
// issue order; the first query that still lacks a reply from that client
// takes it. A client contributes at most one reply per query. Messages that
// no open query accepts are logged as unmatched.
//
// A pending query moves from open to satisfied or expired and is then reaped
// by Clean, which runs after a client detaches, after an unmatched message
// and whenever a new query is issued.
package query
