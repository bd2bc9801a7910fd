package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryMirror implements Mirror with in-process subscriptions.
type MemoryMirror struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	mirror  *MemoryMirror
}

// NewMemoryMirror creates an in-memory mirror.
func NewMemoryMirror(cfg Config) *MemoryMirror {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryMirror{
		bufferSize: cfg.BufferSize,
		subs:       make(map[string][]*memorySub),
	}
}

// Publish sends a message to every subscriber of subject.
func (m *MemoryMirror) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs[subject] {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Buffer full, drop message
		}
	}
	return nil
}

// Subscribe creates a subscription to subject.
func (m *MemoryMirror) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, m.bufferSize),
		mirror:  m,
	}

	m.mu.Lock()
	m.subs[subject] = append(m.subs[subject], sub)
	m.mu.Unlock()

	return sub, nil
}

// Close closes every subscription.
func (m *MemoryMirror) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, subs := range m.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	m.subs = nil
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.mirror.mu.Lock()
	defer s.mirror.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	subs := s.mirror.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.mirror.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	close(s.ch)
	return nil
}
