package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-hub/internal/connection"
	"github.com/life-stream-dev/life-stream-go-hub/internal/hub"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.WarnF("Fail to accept websocket from %s, details: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(s.options.ReadLimit)

	conn := connection.NewConnection(ws, s.options.SendQueueSize, s.options.WriteTimeout)
	id, err := s.hub.Accept(conn)
	if err != nil {
		// the hub has already asked the connection to close with a reason
		_ = conn.WriteLoop(r.Context())
		_ = ws.CloseNow()
		return
	}
	conn.ConnID = string(id)
	logger.DebugF("[%s] Accepted new connection from %s", id, r.RemoteAddr)

	s.handleConnection(r.Context(), id, conn)
	_ = ws.CloseNow()
}

// handleConnection runs the read and write loops until either ends, then
// removes the connection from the hub.
func (s *Server) handleConnection(ctx context.Context, id hub.ConnID, conn *connection.Connection) {
	defer s.hub.Cleanup(id)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := conn.ReadLoop(ctx, func(data []byte) {
			s.hub.HandleFrame(id, data)
		})
		connection.HandleReadError(string(id), err)
		return err
	})
	g.Go(func() error {
		return conn.WriteLoop(ctx)
	})
	if err := g.Wait(); err != nil && !connection.IsClosedError(err) {
		logger.DebugF("[%s] Connection loop ended, details: %v", id, err)
	}
}
