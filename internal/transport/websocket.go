package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxFrameBytes  = 4 << 20
	wsCloseGraceTime = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketConn carries A2A frames as WebSocket text messages.
type WebSocketConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(wsMaxFrameBytes)
	return &WebSocketConn{ws: ws, closed: make(chan struct{})}
}

// DialWebSocket connects to a broker WebSocket endpoint such as
// ws://localhost:8082/a2a.
func DialWebSocket(ctx context.Context, url string) (*WebSocketConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWebSocketConn(ws), nil
}

// WebSocketDialer returns a Dialer for url.
func WebSocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return DialWebSocket(ctx, url)
	}
}

// UpgradeWebSocket upgrades an incoming HTTP request to a frame connection.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketConn(ws), nil
}

func (c *WebSocketConn) Send(ctx context.Context, msg *a2a.Message) error {
	frame, err := a2a.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendFrame(ctx, frame)
}

func (c *WebSocketConn) SendFrame(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return closedError(err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return closedError(err)
	}
	return nil
}

// Receive blocks until a frame arrives. Cancelling ctx closes the connection
// because a blocked WebSocket read cannot be interrupted otherwise.
func (c *WebSocketConn) Receive(ctx context.Context) (*a2a.Message, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			return nil, closedError(err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		return decodeFrame(frame)
	}
}

func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGraceTime))
		err = c.ws.Close()
	})
	return err
}
