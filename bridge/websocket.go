package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout  = 5 * time.Second
	wsReceiveBuffer = 64
)

// WebSocketTransport adapts a websocket connection to the Transport
// contract. It works on either end of the connection (dialer or
// upgrader side).
type WebSocketTransport struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	in      chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport wraps an established websocket connection and
// starts its read pump. The transport owns the connection from here on.
func NewWebSocketTransport(conn *websocket.Conn, log *zap.Logger) *WebSocketTransport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &WebSocketTransport{
		conn:   conn,
		log:    log,
		in:     make(chan []byte, wsReceiveBuffer),
		closed: make(chan struct{}),
	}
	go t.readPump()
	return t
}

// Send implements Transport. Frames are written as text messages; a slow
// peer surfaces as a write timeout error, not a queue.
func (t *WebSocketTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive implements Transport.
func (t *WebSocketTransport) Receive() <-chan []byte { return t.in }

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	return nil
}

// readPump moves inbound websocket messages onto the receive channel
// until the connection dies, then closes the channel.
func (t *WebSocketTransport) readPump() {
	defer close(t.in)
	defer t.Close()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		select {
		case t.in <- data:
		case <-t.closed:
			return
		default:
			// Receiver backlogged: drop, never queue.
		}
	}
}
