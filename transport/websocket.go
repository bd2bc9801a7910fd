package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a websocket connection to one hub client.
type Conn struct {
	conn   *websocket.Conn
	addr   string
	config WebSocketConfig

	recv chan []byte
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an established websocket connection. The connection's
// address is its remote endpoint.
func NewConn(conn *websocket.Conn, cfg WebSocketConfig) *Conn {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = DefaultConfig().RecvBufferSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Conn{
		conn:   conn,
		addr:   conn.RemoteAddr().String(),
		config: cfg,
		recv:   make(chan []byte, cfg.RecvBufferSize),
		send:   make(chan []byte, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// NewUpgrader creates an upgrader for accepting websocket connections from
// any origin.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// Addr returns the remote address.
func (c *Conn) Addr() string {
	return c.addr
}

// Recv returns the channel of inbound text messages.
// Channel is closed when the peer disconnects or the Conn is closed.
func (c *Conn) Recv() <-chan []byte {
	return c.recv
}

// Send queues msg for delivery without blocking.
func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run pumps the connection until ctx is cancelled or the peer goes away.
// It returns nil when the peer disconnected and ctx.Err() on cancellation.
func (c *Conn) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	readDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(readDone)
		c.readLoop()
	}()

	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-readDone:
	case <-c.done:
	}

	c.Close()
	wg.Wait()

	return err
}

// Close stops accepting sends. Run then flushes the queue, sends a close
// frame and releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return nil
}

// readLoop delivers inbound text frames to recv.
func (c *Conn) readLoop() {
	defer close(c.recv)

	if c.config.PingInterval > 0 {
		wait := 2 * c.config.PingInterval
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			// Peer closed, deadline expired or the conn was closed locally.
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

// writeLoop is the only writer of data frames.
func (c *Conn) writeLoop() {
	ticker := c.createPingTicker()
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			c.drainSendQueue()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		}
	}
}

// shutdown sends the close frame and releases the socket, which also
// unblocks readLoop.
func (c *Conn) shutdown() {
	c.Close()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.conn.Close()
}

// createPingTicker creates a ticker for keepalive pings.
func (c *Conn) createPingTicker() *time.Ticker {
	if c.config.PingInterval > 0 {
		return time.NewTicker(c.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// drainSendQueue writes remaining messages before shutdown.
func (c *Conn) drainSendQueue() {
	for {
		select {
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeMessage(msg []byte) error {
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}
