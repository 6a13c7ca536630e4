package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// wsMessaging is the surface shared by gorilla and gofiber websocket conns,
// so the same wrapper serves both ends of the link.
type wsMessaging interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type websocketConn struct {
	ws wsMessaging
}

// WrapWebsocket adapts a websocket connection to the transport Conn.
func WrapWebsocket(ws wsMessaging) Conn {
	return &websocketConn{ws: ws}
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Close() error {
	return c.ws.Close()
}

// WebsocketDialer dials the host's channel endpoint from the wearable side.
type WebsocketDialer struct {
	URL    string
	Header http.Header
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}
	return WrapWebsocket(conn), nil
}
