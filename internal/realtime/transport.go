package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// Conn is a duplex protocol connection owned by one session
type Conn interface {
	ReadEvent() (ServerEvent, error)
	WriteCommand(cmd ClientCommand) error
	Close() error
}

// Dialer opens connections to an endpoint
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials endpoints with gorilla/websocket
type WebsocketDialer struct {
	Header http.Header
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer sending header on every handshake
func NewWebsocketDialer(header http.Header) *WebsocketDialer {
	return &WebsocketDialer{
		Header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial connects to endpoint
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewWebsocketConn(conn), nil
}

// WebsocketConn adapts a websocket to Conn. Writes are serialized; reads must come from one goroutine.
type WebsocketConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebsocketConn wraps an established websocket
func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{conn: conn}
}

// ReadEvent blocks for the next event. Undecodable messages come back as events with an empty type.
func (c *WebsocketConn) ReadEvent() (ServerEvent, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return ServerEvent{}, err
	}

	var ev ServerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return ServerEvent{}, nil
	}
	return ev, nil
}

// WriteCommand sends one command
func (c *WebsocketConn) WriteCommand(cmd ClientCommand) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(cmd)
}

// Close sends a close frame and closes the socket; later calls return the first result
func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsUnexpectedClose reports whether err is worth logging as a transport failure
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
