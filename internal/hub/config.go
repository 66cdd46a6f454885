package hub

import "time"

// Config bounds the hub's resources and paces its timers.
type Config struct {
	MaxConnections       int
	RegistrationDeadline time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxMessageSize       int
	MaxPayloadSize       int
	MaxRetries           int
	RetryInterval        time.Duration
	MessageCacheTTL      time.Duration
	MessageCacheSize     int
}

func DefaultConfig() Config {
	return Config{
		MaxConnections:       1000,
		RegistrationDeadline: 30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     150 * time.Second,
		MaxMessageSize:       10240,
		MaxPayloadSize:       10240,
		MaxRetries:           3,
		RetryInterval:        5 * time.Second,
		MessageCacheTTL:      time.Minute,
		MessageCacheSize:     4096,
	}
}

// withDefaults fills zero fields from DefaultConfig. MaxRetries may be zero
// on purpose, so only negative values are replaced.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.RegistrationDeadline <= 0 {
		c.RegistrationDeadline = d.RegistrationDeadline
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * c.HeartbeatInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = d.MaxPayloadSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MessageCacheTTL <= 0 {
		c.MessageCacheTTL = d.MessageCacheTTL
	}
	return c
}
