package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/config"
	"github.com/life-stream-dev/life-stream-go-hub/internal/database"
	"github.com/life-stream-dev/life-stream-go-hub/internal/hub"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/utils"
)

// HubConfigFrom converts the file configuration into hub settings.
func HubConfigFrom(cfg config.HubConfig) (hub.Config, error) {
	var err error
	out := hub.Config{
		MaxConnections:   cfg.MaxConnections,
		MaxMessageSize:   cfg.MaxMessageSize,
		MaxPayloadSize:   cfg.MaxPayloadSize,
		MaxRetries:       cfg.MaxRetries,
		MessageCacheSize: cfg.MessageCacheSize,
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"heartbeat_interval", cfg.HeartbeatInterval, &out.HeartbeatInterval},
		{"heartbeat_timeout", cfg.HeartbeatTimeout, &out.HeartbeatTimeout},
		{"retry_interval", cfg.RetryInterval, &out.RetryInterval},
		{"registration_deadline", cfg.RegistrationDeadline, &out.RegistrationDeadline},
		{"message_cache_ttl", cfg.MessageCacheTTL, &out.MessageCacheTTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if *d.dst, err = utils.ParseStringTime(d.value); err != nil {
			return hub.Config{}, fmt.Errorf("hub.%s: %w", d.name, err)
		}
	}
	return out, nil
}

// OptionsFrom converts the file configuration into transport options.
func OptionsFrom(cfg config.HubConfig) (Options, error) {
	options := Options{
		ListenAddress: cfg.ListenAddress,
		SendQueueSize: cfg.SendQueueSize,
	}
	if cfg.WriteTimeout != "" {
		timeout, err := utils.ParseStringTime(cfg.WriteTimeout)
		if err != nil {
			return Options{}, fmt.Errorf("hub.write_timeout: %w", err)
		}
		options.WriteTimeout = timeout
	}
	return options, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnF("Fail to write response body, details: %v", err)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  s.hub.Stats(),
	})
}

func (s *Server) serveMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.hub.Lookup(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) serveSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []*database.SessionData{})
		return
	}
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		logger.ErrorF("Fail to list sessions, details: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
