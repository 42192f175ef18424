package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/facecontrol/face-remote/internal/pkg/errors"
)

const closeGracePeriod = time.Second

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// NewWebSocketDialer creates a dialer with the given timeouts.
func NewWebSocketDialer(handshake, write time.Duration) *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: handshake, WriteTimeout: write}
}

// Dial performs the websocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		appErr := apperrors.TransportOpenError(endpoint, err)
		if resp != nil {
			appErr = appErr.WithDetail("status", resp.Status)
		}
		return nil, appErr
	}
	return NewWebSocketConn(ws, d.WriteTimeout), nil
}

// WebSocketConn adapts *websocket.Conn to Conn.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewWebSocketConn wraps an established websocket connection.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

// ReadMessage blocks for the next text or binary frame.
func (c *WebSocketConn) ReadMessage() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", classifyReadError(err)
	}
	return string(data), nil
}

// WriteMessage sends one text frame.
func (c *WebSocketConn) WriteMessage(payload string) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return apperrors.SendOnClosedError()
		}
		return apperrors.TransportError("write failed", err)
	}
	return nil
}

// Close sends a normal-closure frame and closes the socket.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return apperrors.TransportClosedError(ce.Code, ce.Text, err)
	}
	return apperrors.TransportError("read failed", err)
}
