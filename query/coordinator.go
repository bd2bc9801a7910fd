package query

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
)

// Broadcaster pushes a notification to every attached client.
type Broadcaster interface {
	Broadcast(n bus.Notification) int
}

// Roster lists the attached clients.
type Roster interface {
	Addrs() []string
}

// Coordinator tracks pending queries and routes inbound replies to them.
type Coordinator struct {
	bcast  Broadcaster
	roster Roster
	window time.Duration
	log    *logging.Logger

	mu      sync.Mutex
	pending []*Pending
}

// New creates a coordinator. A non-positive window selects DefaultWindow.
func New(bcast Broadcaster, roster Roster, window time.Duration, log *logging.Logger) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{
		bcast:  bcast,
		roster: roster,
		window: window,
		log:    log,
	}
}

// Window returns the reply window.
func (c *Coordinator) Window() time.Duration {
	return c.window
}

// Issue registers a new pending query for the clients attached now and
// broadcasts the query notification. It does not wait for replies.
func (c *Coordinator) Issue() *Pending {
	c.Clean()

	p := newPending(c.roster.Addrs(), c.window, time.Now())

	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	c.log.QueryIssued(p.ID(), p.Expected())
	c.bcast.Broadcast(bus.Notification{Operation: bus.OpQuery})
	return p
}

// Wait blocks on p and reaps closed queries afterwards.
func (c *Coordinator) Wait(ctx context.Context, p *Pending) ([]Response, error) {
	responses, err := p.Wait(ctx)
	c.log.QueryCompleted(p.ID(), len(responses), p.Expected(), time.Since(p.Start()))
	c.Clean()
	if err != nil {
		return responses, errors.Wrap(err, "waiting for query replies",
			errors.WithMetadata("query", p.ID()))
	}
	return responses, nil
}

// Query issues a query and waits for its replies.
func (c *Coordinator) Query(ctx context.Context) ([]Response, error) {
	return c.Wait(ctx, c.Issue())
}

// HandleIncoming offers data from client to the open queries in issue order.
// It reports whether a query accepted it.
func (c *Coordinator) HandleIncoming(client string, data []byte) bool {
	c.mu.Lock()
	pending := make([]*Pending, len(c.pending))
	copy(pending, c.pending)
	c.mu.Unlock()

	now := time.Now()
	for _, p := range pending {
		if p.offer(client, data, now) {
			return true
		}
	}

	c.log.UnmatchedReply(client, len(data))
	c.Clean()
	return false
}

// Clean removes satisfied and expired queries.
func (c *Coordinator) Clean() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.Open(now) {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = kept
}

// Len returns the number of tracked queries, open or not yet reaped.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
