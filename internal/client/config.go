package client

import (
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/config"
	"github.com/life-stream-dev/life-stream-go-hub/internal/utils"
)

type Config struct {
	ServerURL             string
	Identity              string
	AutoReconnect         bool
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ConnectTimeout        time.Duration
	HeartbeatInterval     time.Duration
	WriteTimeout          time.Duration
	MaxMessageSize        int
	// ReadLimit caps a single frame received from the hub. It is unrelated
	// to MaxMessageSize: member lists in subscribed and member_joined grow
	// with the channel. Negative means unlimited.
	ReadLimit int64
	// ResendUnacked keeps publishes the hub never acknowledged across a
	// reconnect and sends them again once registered. When false they are
	// forgotten on disconnect.
	ResendUnacked bool
	// Channels are subscribed on every registration in addition to those
	// joined at runtime.
	Channels    []string
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		ServerURL:             "ws://127.0.0.1:8080/ws",
		AutoReconnect:         true,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     time.Minute,
		ConnectTimeout:        10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		WriteTimeout:          10 * time.Second,
		MaxMessageSize:        10240,
		ReadLimit:             -1,
		EventBuffer:           256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = d.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		c.ReconnectMaxDelay = c.ReconnectInitialDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// ConfigFrom converts the file configuration into agent settings.
func ConfigFrom(cfg config.ClientConfig) (Config, error) {
	out := Config{
		ServerURL:      cfg.ServerURL,
		Identity:       cfg.Identity,
		AutoReconnect:  cfg.AutoReconnect,
		MaxMessageSize: cfg.MaxMessageSize,
		ReadLimit:      cfg.ReadLimit,
		ResendUnacked:  cfg.ResendUnacked,
		Channels:       append([]string(nil), cfg.Channels...),
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"reconnect_initial_delay", cfg.ReconnectInitialDelay, &out.ReconnectInitialDelay},
		{"reconnect_max_delay", cfg.ReconnectMaxDelay, &out.ReconnectMaxDelay},
		{"connect_timeout", cfg.ConnectTimeout, &out.ConnectTimeout},
		{"heartbeat_interval", cfg.HeartbeatInterval, &out.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := utils.ParseStringTime(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("client.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return out, nil
}
