package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/errors"
)

// Notification is a push message as received from the hub.
type Notification struct {
	Key       json.RawMessage `json:"key"`
	Operation string          `json:"operation"`
	Meta      json.RawMessage `json:"meta"`
}

// KeyString returns the key of an object notification, empty for other
// operations.
func (n Notification) KeyString() string {
	var key string
	if err := json.Unmarshal(n.Key, &key); err != nil {
		return ""
	}
	return key
}

// Subscription is an attached push connection.
type Subscription struct {
	conn *websocket.Conn
	id   int64

	notifications chan Notification
	done          chan struct{}
	stop          chan struct{}

	writeMu sync.Mutex
	closeMu sync.Once
}

// Subscribe dials the websocket endpoint (e.g. "ws://localhost:3194") and
// waits for the hub to assign a client id.
func Subscribe(ctx context.Context, wsURL string) (*Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "dialing "+wsURL)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var hello Notification
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "reading client id")
	}
	conn.SetReadDeadline(time.Time{})

	var id int64
	if hello.Operation != bus.OpID || json.Unmarshal(hello.Key, &id) != nil {
		conn.Close()
		return nil, errors.Newf(errors.ErrCodeInternal, "expected id message, got %q", hello.Operation)
	}

	s := &Subscription{
		conn:          conn,
		id:            id,
		notifications: make(chan Notification, 64),
		done:          make(chan struct{}),
		stop:          make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// ID returns the client id the hub assigned.
func (s *Subscription) ID() int64 {
	return s.id
}

// Notifications returns the channel of push messages. It is closed when the
// connection ends.
func (s *Subscription) Notifications() <-chan Notification {
	return s.notifications
}

// Done is closed when the connection ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Reply sends v as JSON, answering the oldest open query this client has
// not answered yet.
func (s *Subscription) Reply(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encoding reply")
	}
	return s.ReplyRaw(data)
}

// ReplyRaw sends data as a text frame without encoding it.
func (s *Subscription) ReplyRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "sending reply")
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (s *Subscription) Close() error {
	var err error
	s.closeMu.Do(func() {
		close(s.stop)
		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) readLoop() {
	defer close(s.done)
	defer close(s.notifications)

	for {
		var n Notification
		if err := s.conn.ReadJSON(&n); err != nil {
			return
		}
		select {
		case s.notifications <- n:
		case <-s.stop:
			return
		}
	}
}
