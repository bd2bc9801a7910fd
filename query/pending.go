package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is how long a query collects replies.
const DefaultWindow = 2 * time.Second

// Response is one client's reply to a query.
type Response struct {
	// Client is the address of the replying connection.
	Client string `json:"client"`

	// Data is the reply, opaque to the hub.
	Data json.RawMessage `json:"data"`
}

// Pending is an issued query awaiting replies.
type Pending struct {
	id       string
	expected int
	start    time.Time
	deadline time.Time
	eligible map[string]struct{}

	mu        sync.Mutex
	responses []Response
	replied   map[string]struct{}
	satisfied bool
	done      chan struct{}
}

func newPending(clients []string, window time.Duration, now time.Time) *Pending {
	p := &Pending{
		id:       uuid.NewString(),
		expected: len(clients),
		start:    now,
		deadline: now.Add(window),
		eligible: make(map[string]struct{}, len(clients)),
		replied:  make(map[string]struct{}, len(clients)),
		done:     make(chan struct{}),
	}
	for _, c := range clients {
		p.eligible[c] = struct{}{}
	}
	if p.expected == 0 {
		p.satisfied = true
		close(p.done)
	}
	return p
}

// ID identifies the query in logs and traces.
func (p *Pending) ID() string { return p.id }

// Expected is the number of clients attached when the query was issued.
func (p *Pending) Expected() int { return p.expected }

// Start is when the query was issued.
func (p *Pending) Start() time.Time { return p.start }

// Deadline is when the window closes.
func (p *Pending) Deadline() time.Time { return p.deadline }

// Done is closed once every expected client has replied.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Open reports whether the query still accepts replies at now.
func (p *Pending) Open(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked(now)
}

func (p *Pending) openLocked(now time.Time) bool {
	return !p.satisfied && now.Before(p.deadline)
}

// offer records data as client's reply. It returns false when the query is
// closed, client was not attached at issue time, or client already replied.
func (p *Pending) offer(client string, data []byte, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.openLocked(now) {
		return false
	}
	if _, ok := p.eligible[client]; !ok {
		return false
	}
	if _, dup := p.replied[client]; dup {
		return false
	}

	p.replied[client] = struct{}{}
	p.responses = append(p.responses, Response{
		Client: client,
		Data:   append(json.RawMessage(nil), data...),
	})
	if len(p.responses) == p.expected {
		p.satisfied = true
		close(p.done)
	}
	return true
}

// Responses returns the replies collected so far, in arrival order.
func (p *Pending) Responses() []Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Response, len(p.responses))
	copy(out, p.responses)
	return out
}

// Wait blocks until the query is satisfied, its window elapses or ctx is
// done. It returns the replies collected by then; only a ctx cancellation
// produces an error, alongside the partial replies.
func (p *Pending) Wait(ctx context.Context) ([]Response, error) {
	remaining := time.Until(p.deadline)
	if remaining <= 0 {
		return p.Responses(), nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
	case <-ctx.Done():
		return p.Responses(), ctx.Err()
	}
	return p.Responses(), nil
}
