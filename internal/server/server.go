package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/database"
	"github.com/life-stream-dev/life-stream-go-hub/internal/hub"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

const readHeaderTimeout = 10 * time.Second

// Options tunes the transport side of each connection.
type Options struct {
	ListenAddress string
	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadLimit caps a single inbound frame at the WebSocket layer. Frames
	// between the hub's MaxMessageSize and this limit get an error reply;
	// anything larger closes the connection.
	ReadLimit int64
}

type Server struct {
	hub        *hub.Hub
	store      database.SessionStore
	options    Options
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// NewServer wires the hub to an HTTP mux. store may be nil, in which case
// the presence listing is empty.
func NewServer(h *hub.Hub, store database.SessionStore, options Options) *Server {
	if options.SendQueueSize <= 0 {
		options.SendQueueSize = 256
	}
	if options.ReadLimit <= 0 {
		options.ReadLimit = int64(2 * h.Config().MaxMessageSize)
	}
	s := &Server{
		hub:     h,
		store:   store,
		options: options,
		done:    make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWebSocket)
	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.HandleFunc("GET /messages/{id}", s.serveMessage)
	mux.HandleFunc("GET /sessions", s.serveSessions)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.options.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.InfoF("Hub Server Listen On %s", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("Server stopped unexpectedly, details: %v", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the serve loop has returned.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown closes every hub connection, then stops accepting requests and
// waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Invoke lets the server be registered with the shutdown cleaner.
func (s *Server) Invoke(ctx context.Context) error {
	return s.Shutdown(ctx)
}
