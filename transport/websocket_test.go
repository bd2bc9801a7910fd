package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// --- Unit Tests ---

func TestWebSocketConfig_Defaults(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.SendBufferSize != 256 {
		t.Errorf("SendBufferSize = %d, want 256", cfg.SendBufferSize)
	}
}

// --- Integration Tests ---

// pair starts a server that wraps each upgraded connection in a Conn and
// returns the server-side Conn plus a dialed client connection.
func pair(t *testing.T, cfg WebSocketConfig) (*Conn, *websocket.Conn) {
	t.Helper()
	upgrader := NewUpgrader()
	ready := make(chan *Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		ready <- NewConn(conn, cfg)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case c := <-ready:
		return c, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded")
		return nil, nil
	}
}

func TestConn_RoundTrip(t *testing.T) {
	serverConn, clientConn := pair(t, DefaultWebSocketConfig())

	if serverConn.Addr() == "" {
		t.Error("empty remote address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverConn.Run(ctx)
	}()

	clientConn.WriteMessage(websocket.TextMessage, []byte(`{"answer":42}`))

	select {
	case data := <-serverConn.Recv():
		if string(data) != `{"answer":42}` {
			t.Errorf("received %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := serverConn.Send([]byte(`{"key":"k","operation":"update","meta":null}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"update"`) {
		t.Errorf("client got %s", data)
	}

	cancel()
	wg.Wait()
}

func TestConn_QueuedBeforeRun(t *testing.T) {
	serverConn, clientConn := pair(t, DefaultWebSocketConfig())

	// Messages sent before Run starts are delivered in order.
	serverConn.Send([]byte(`1`))
	serverConn.Send([]byte(`2`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverConn.Run(ctx)

	for _, want := range []string{"1", "2"} {
		clientConn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := clientConn.ReadMessage()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if string(data) != want {
			t.Errorf("got %q, want %q", data, want)
		}
	}
}

func TestConn_SendBufferFull(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	cfg.SendBufferSize = 2
	serverConn, _ := pair(t, cfg)

	// Without Run nothing drains the queue.
	serverConn.Send([]byte(`1`))
	serverConn.Send([]byte(`2`))
	if err := serverConn.Send([]byte(`3`)); err != ErrSendBufferFull {
		t.Errorf("Send = %v, want ErrSendBufferFull", err)
	}
	serverConn.Close()
}

func TestConn_SendAfterClose(t *testing.T) {
	serverConn, _ := pair(t, DefaultWebSocketConfig())
	serverConn.Close()
	serverConn.Close()

	if err := serverConn.Send([]byte(`x`)); err != ErrClosed {
		t.Errorf("Send = %v, want ErrClosed", err)
	}
}

func TestConn_PeerDisconnect(t *testing.T) {
	serverConn, clientConn := pair(t, DefaultWebSocketConfig())

	done := make(chan error, 1)
	go func() {
		done <- serverConn.Run(context.Background())
	}()

	clientConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	clientConn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on peer disconnect", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer disconnect")
	}

	if _, ok := <-serverConn.Recv(); ok {
		t.Error("Recv channel should be closed")
	}
	if err := serverConn.Send([]byte(`x`)); err != ErrClosed {
		t.Errorf("Send after disconnect = %v, want ErrClosed", err)
	}
}

func TestConn_ContextCancel(t *testing.T) {
	serverConn, clientConn := pair(t, DefaultWebSocketConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serverConn.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The client observes a close frame.
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := clientConn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("client read = %v, want normal closure", err)
	}
}

func TestConn_IgnoresBinaryFrames(t *testing.T) {
	serverConn, clientConn := pair(t, DefaultWebSocketConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverConn.Run(ctx)

	clientConn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
	clientConn.WriteMessage(websocket.TextMessage, []byte(`"text"`))

	select {
	case data := <-serverConn.Recv():
		if string(data) != `"text"` {
			t.Errorf("received %q, want the text frame", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestConn_Ping(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	cfg.PingInterval = 20 * time.Millisecond
	serverConn, clientConn := pair(t, cfg)

	pinged := make(chan struct{}, 1)
	clientConn.SetPingHandler(func(appData string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return clientConn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	// Reading drives the client's control frame handlers.
	go func() {
		for {
			if _, _, err := clientConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverConn.Run(ctx)

	select {
	case <-pinged:
	case <-time.After(time.Second):
		t.Fatal("no ping received")
	}
}
