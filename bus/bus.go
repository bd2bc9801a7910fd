package bus

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/vinayprograms/objecthub/logging"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Notification operations.
const (
	OpID      = "id"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpControl = "control"
	OpQuery   = "query"
)

// Notification is the message pushed to attached clients.
type Notification struct {
	// Key is the object key, the client id for "id", or nil.
	Key any `json:"key"`

	// Operation is one of the Op constants.
	Operation string `json:"operation"`

	// Meta carries the control payload; nil for every other operation.
	Meta any `json:"meta"`
}

// Message is a mirrored notification as seen by a mirror subscriber.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the serialized notification.
	Data []byte
}

// Mirror receives a copy of every broadcast.
type Mirror interface {
	// Publish sends data to all subscribers of subject.
	Publish(subject string, data []byte) error

	// Close releases the mirror's resources.
	Close() error
}

// Subscription is an active mirror subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds broadcast configuration.
type Config struct {
	// Mirror, when set, receives every broadcast.
	Mirror Mirror

	// SubjectPrefix is prepended to the operation to form mirror subjects.
	// Default: "objecthub"
	SubjectPrefix string

	// BufferSize for mirror subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "objecthub",
		BufferSize:    256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	if strings.HasPrefix(subject, ".") || strings.HasSuffix(subject, ".") || strings.Contains(subject, "..") {
		return ErrInvalidSubject
	}
	return nil
}

// Subject returns the mirror subject for an operation.
func Subject(prefix, operation string) string {
	if prefix == "" {
		return operation
	}
	return prefix + "." + operation
}

// Bus broadcasts notifications to every attached connection.
type Bus struct {
	conns  *Connections
	config Config
	log    *logging.Logger
}

// New creates a bus over a connection registry.
func New(conns *Connections, cfg Config, log *logging.Logger) *Bus {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{conns: conns, config: cfg, log: log}
}

// Connections returns the registry this bus delivers to.
func (b *Bus) Connections() *Connections {
	return b.conns
}

// Broadcast serializes n once and pushes it to every attached connection.
// It returns the number of connections the message was handed to.
func (b *Bus) Broadcast(n Notification) int {
	data, err := json.Marshal(n)
	if err != nil {
		b.log.Error("notification not serializable", map[string]interface{}{
			"operation": n.Operation,
			"error":     err.Error(),
		})
		return 0
	}

	delivered := 0
	for _, c := range b.conns.Snapshot() {
		if err := c.Send(data); err != nil {
			b.log.SendFailed(c.Addr(), n.Operation, err)
			continue
		}
		delivered++
	}

	b.mirror(n.Operation, data)
	return delivered
}

func (b *Bus) mirror(operation string, data []byte) {
	if b.config.Mirror == nil {
		return
	}
	subject := Subject(b.config.SubjectPrefix, operation)

	if err := b.config.Mirror.Publish(subject, data); err != nil {
		b.log.Warn("mirror publish failed", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

// Close closes the mirror, if any.
func (b *Bus) Close() error {
	if b.config.Mirror == nil {
		return nil
	}
	return b.config.Mirror.Close()
}
