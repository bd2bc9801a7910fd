// Package transport carries hub notifications to clients over websocket.
//
// # Overview
//
// A Conn owns one websocket connection and satisfies the hub's push-capable
// connection contract: a stable address, a non-blocking Send and a stream of
// inbound messages.
//
//	upgrader := transport.NewUpgrader()
//	ws, _ := upgrader.Upgrade(w, r, nil)
//	conn := transport.NewConn(ws, transport.DefaultWebSocketConfig())
//
//	go conn.Run(ctx)
//	for msg := range conn.Recv() {
//	    // handle inbound text frame
//	}
//
// # Delivery
//
// Outbound messages go through a bounded queue drained by a single writer
// goroutine. Send never waits on the network: it fails with
// ErrSendBufferFull when the queue is full and with ErrClosed after the
// connection has ended. A slow client therefore loses messages instead of
// stalling a broadcast.
//
// # Lifecycle
//
// Run returns when the peer disconnects (nil) or ctx is cancelled
// (ctx.Err()). Either way the queue is flushed, a close frame is sent and
// Recv is closed.
//
// # Keepalive
//
// With PingInterval set, the writer pings the peer on that interval and a
// peer that stays silent for two intervals is dropped.
package transport
