package bus

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/vinayprograms/objecthub/logging"
)

// Conn is a push-capable client handle.
type Conn interface {
	// Addr is the stable identity of the connection.
	Addr() string

	// Send queues an already-serialized message for delivery.
	// It must not block on the network.
	Send(msg []byte) error
}

// Connections tracks attached clients by address.
type Connections struct {
	mu     sync.Mutex
	conns  map[string]Conn
	nextID int64
	log    *logging.Logger
}

// NewConnections creates an empty registry. Client ids start at 1.
func NewConnections(log *logging.Logger) *Connections {
	if log == nil {
		log = logging.Discard()
	}
	return &Connections{
		conns:  make(map[string]Conn),
		nextID: 1,
		log:    log,
	}
}

// Attach registers conn under its address, assigns the next client id and
// pushes the "id" notification to conn alone. A connection already attached
// under the same address is replaced.
func (c *Connections) Attach(conn Conn) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := conn.Addr()
	if _, exists := c.conns[addr]; exists {
		c.log.Warn("address re-attached, replacing connection", map[string]interface{}{
			"addr": addr,
		})
	}
	c.conns[addr] = conn
	id := c.nextID
	c.nextID++

	// Queued under the lock so the id precedes any broadcast to this conn.
	data, _ := json.Marshal(Notification{Key: id, Operation: OpID})
	if err := conn.Send(data); err != nil {
		c.log.SendFailed(addr, OpID, err)
	}

	c.log.ClientAttached(addr, id)
	return id
}

// Detach removes conn and reports whether it was attached. A connection that
// has since been replaced under the same address is left in place.
func (c *Connections) Detach(conn Conn) bool {
	addr := conn.Addr()

	c.mu.Lock()
	current, ok := c.conns[addr]
	ok = ok && current == conn
	if ok {
		delete(c.conns, addr)
	}
	c.mu.Unlock()

	if ok {
		c.log.ClientDetached(addr)
	}
	return ok
}

// Count returns the number of attached connections.
func (c *Connections) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Addrs returns the attached addresses in sorted order.
func (c *Connections) Addrs() []string {
	c.mu.Lock()
	addrs := make([]string, 0, len(c.conns))
	for addr := range c.conns {
		addrs = append(addrs, addr)
	}
	c.mu.Unlock()

	sort.Strings(addrs)
	return addrs
}

// Snapshot returns the attached connections at this instant.
func (c *Connections) Snapshot() []Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, conn)
	}
	return out
}
