package distributor

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrConnClosed is returned by Send after the connection was closed.
var ErrConnClosed = errors.New("distributor: live connection closed")

const defaultWriteTimeout = 5 * time.Second

// WebsocketConn adapts a gorilla websocket to Conn. Writes are serialized.
type WebsocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewWebsocketConn wraps an upgraded websocket.
func NewWebsocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebsocketConn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebsocketConn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
}

// Send writes payload as a single text frame.
func (c *WebsocketConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and releases the socket. Safe to call twice.
func (c *WebsocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
		c.mu.Unlock()
		close(c.done)
	})
	return err
}

// Done is closed once the connection is closed.
func (c *WebsocketConn) Done() <-chan struct{} {
	return c.done
}

// ReadPump drains client frames until the peer goes away. Client payloads
// carry no meaning here and are only logged.
func (c *WebsocketConn) ReadPump(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() { _ = c.Close() }()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("live connection read error", zap.Error(err))
			}
			return
		}
		logger.Debug("ignoring client frame", zap.Int("type", kind), zap.Int("bytes", len(data)))
	}
}
