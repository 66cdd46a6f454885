package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestSendBackpressure(t *testing.T) {
	c := NewConnection(nil, 1, 0)
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Send on full queue = %v, want ErrBackpressure", err)
	}
	c.Close(1000, "")
	c.Close(4002, "ignored")
	if err := c.Send([]byte("c")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
	if c.closeCode != 1000 {
		t.Fatalf("second Close overrode the status: %d", c.closeCode)
	}
}

func TestWriteLoopDeliversAndCloses(t *testing.T) {
	serverDone := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		c := NewConnection(ws, 8, time.Second)
		_ = c.Send([]byte(`{"type":"pong","timestamp":1}`))
		c.Close(4002, "heartbeat timeout")
		serverDone <- c.WriteLoop(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.CloseNow()

	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"type":"pong","timestamp":1}` {
		t.Fatalf("unexpected frame %s", data)
	}
	_, _, err = client.Read(ctx)
	if status := websocket.CloseStatus(err); status != 4002 {
		t.Fatalf("close status = %d (%v), want 4002", status, err)
	}
	if err := <-serverDone; !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteLoop returned %v, want ErrClosed", err)
	}
}

func TestIsClosedError(t *testing.T) {
	if !IsClosedError(websocket.CloseError{Code: websocket.StatusNormalClosure}) {
		t.Fatalf("normal closure should count as closed")
	}
	if IsClosedError(websocket.CloseError{Code: websocket.StatusPolicyViolation}) {
		t.Fatalf("policy violation should not count as a plain close")
	}
	if IsClosedError(errors.New("boom")) {
		t.Fatalf("arbitrary error counted as closed")
	}
}
