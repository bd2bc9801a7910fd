package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSMirror implements Mirror using NATS.
type NATSMirror struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "objecthub",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSMirror connects to NATS.
func NewNATSMirror(cfg NATSConfig) (*NATSMirror, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSMirror{conn: conn, config: cfg}, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends data to subject.
func (m *NATSMirror) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if m.closed() {
		return ErrClosed
	}
	if err := m.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to subject. Wildcards such as
// "objecthub.>" follow NATS rules.
func (m *NATSMirror) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if m.closed() {
		return nil, ErrClosed
	}

	ch := make(chan *Message, m.config.BufferSize)
	ns, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- &Message{Subject: msg.Subject, Data: msg.Data}:
		default:
			// Buffer full
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	return &natsSub{sub: ns, ch: ch}, nil
}

// Flush waits until the server has processed everything published so far.
func (m *NATSMirror) Flush(timeout time.Duration) error {
	return m.conn.FlushTimeout(timeout)
}

// Close drains pending publishes and closes the connection.
func (m *NATSMirror) Close() error {
	if m.closed() {
		return nil
	}
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// closed reports whether Close has been called; a draining connection
// accepts no new work.
func (m *NATSMirror) closed() bool {
	return m.conn.IsClosed() || m.conn.IsDraining()
}

type natsSub struct {
	sub *nats.Subscription
	ch  chan *Message
}

func (s *natsSub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription. The callback may still be running,
// so the channel is left for the garbage collector rather than closed.
func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
