package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryMirror_PublishWithoutSubscribers(t *testing.T) {
	m := NewMemoryMirror(DefaultConfig())
	defer m.Close()

	if err := m.Publish("test", []byte("hello")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryMirror_PublishInvalidSubject(t *testing.T) {
	m := NewMemoryMirror(DefaultConfig())
	defer m.Close()

	if err := m.Publish("", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMemoryMirror_Subscribe(t *testing.T) {
	m := NewMemoryMirror(DefaultConfig())
	defer m.Close()

	sub1, _ := m.Subscribe("test")
	sub2, _ := m.Subscribe("test")

	if err := m.Publish("test", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Messages():
			if string(msg.Data) != "hello" {
				t.Errorf("sub%d data = %q", i+1, msg.Data)
			}
		case <-time.After(time.Second):
			t.Errorf("sub%d timed out", i+1)
		}
	}
}

func TestMemoryMirror_Unsubscribe(t *testing.T) {
	m := NewMemoryMirror(DefaultConfig())
	defer m.Close()

	sub, _ := m.Subscribe("test")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}

	m.Publish("test", []byte("after"))
	if _, ok := <-sub.Messages(); ok {
		t.Error("received on unsubscribed channel")
	}
}

func TestMemoryMirror_Close(t *testing.T) {
	m := NewMemoryMirror(DefaultConfig())
	sub, _ := m.Subscribe("test")

	m.Close()
	m.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed")
	}
	if err := m.Publish("test", nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := m.Subscribe("test"); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}

func TestMemoryMirror_FullBufferDrops(t *testing.T) {
	m := NewMemoryMirror(Config{BufferSize: 1})
	defer m.Close()

	sub, _ := m.Subscribe("test")
	m.Publish("test", []byte("1"))
	m.Publish("test", []byte("2"))

	msg := <-sub.Messages()
	if string(msg.Data) != "1" {
		t.Errorf("data = %q, want 1", msg.Data)
	}
	select {
	case msg := <-sub.Messages():
		t.Errorf("unexpected %q", msg.Data)
	default:
	}
}

func TestMemoryMirror_Concurrent(t *testing.T) {
	m := NewMemoryMirror(Config{BufferSize: 1000})
	defer m.Close()

	sub, _ := m.Subscribe("test")
	var received atomic.Int32
	done := make(chan struct{})
	go func() {
		for range sub.Messages() {
			if received.Add(1) == 100 {
				close(done)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.Publish("test", []byte("x"))
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Errorf("received %d, want 100", received.Load())
	}
}
