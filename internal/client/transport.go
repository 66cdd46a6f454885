package client

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Transport is one established, message-oriented connection to the hub.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials the hub over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	HTTPHeader http.Header
	// ReadLimit caps inbound frames. Zero keeps the library default of
	// 32768 bytes and a negative value removes the cap.
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.HTTPHeader,
	})
	if err != nil {
		return nil, err
	}
	if d.ReadLimit != 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}

// CloseCode extracts the WebSocket close status from a read error, or -1.
func CloseCode(err error) int {
	return int(websocket.CloseStatus(err))
}
