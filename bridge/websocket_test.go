package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

// TestWebSocketTransportRoundTrip runs a frame in both directions over a
// real websocket connection.
func TestWebSocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverSide := make(chan *WebSocketTransport, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- NewWebSocketTransport(conn, zaptest.NewLogger(t))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client := NewWebSocketTransport(conn, zaptest.NewLogger(t))
	defer client.Close()

	var server *WebSocketTransport
	select {
	case server = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("server transport never arrived")
	}
	defer server.Close()

	if err := client.Send([]byte("from-client")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	select {
	case data := <-server.Receive():
		if string(data) != "from-client" {
			t.Errorf("expected %q, got %q", "from-client", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received")
	}

	if err := server.Send([]byte("from-server")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	select {
	case data := <-client.Receive():
		if string(data) != "from-server" {
			t.Errorf("expected %q, got %q", "from-server", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received")
	}
}

// TestWebSocketTransportClose verifies Close ends the receive channel on
// both sides and fails subsequent sends.
func TestWebSocketTransportClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverSide := make(chan *WebSocketTransport, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- NewWebSocketTransport(conn, nil)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client := NewWebSocketTransport(conn, nil)

	var server *WebSocketTransport
	select {
	case server = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("server transport never arrived")
	}
	defer server.Close()

	client.Close()
	client.Close() // idempotent

	if err := client.Send([]byte("x")); err != ErrTransportClosed {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}

	select {
	case _, ok := <-client.Receive():
		if ok {
			t.Error("expected closed receive channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel never closed")
	}
}
