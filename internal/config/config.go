package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	DefaultPath = "config.json"
	EnvPrefix   = "HUB"
)

// ErrConfigCreated is returned when no configuration file existed and a
// template was written in its place.
var ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")

type Config struct {
	AppName   string         `mapstructure:"app_name" json:"app_name"`
	DebugMode bool           `mapstructure:"debug_mode" json:"debug_mode"`
	Hub       HubConfig      `mapstructure:"hub" json:"hub"`
	Client    ClientConfig   `mapstructure:"client" json:"client"`
	Database  DatabaseConfig `mapstructure:"database" json:"database"`
	Log       LogConfig      `mapstructure:"log" json:"log"`
}

// HubConfig durations are strings understood by utils.ParseStringTime.
type HubConfig struct {
	ListenAddress        string `mapstructure:"listen_address" json:"listen_address"`
	HeartbeatInterval    string `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatTimeout     string `mapstructure:"heartbeat_timeout" json:"heartbeat_timeout"`
	MaxMessageSize       int    `mapstructure:"max_message_size" json:"max_message_size"`
	MaxPayloadSize       int    `mapstructure:"max_payload_size" json:"max_payload_size"`
	MaxRetries           int    `mapstructure:"max_retries" json:"max_retries"`
	RetryInterval        string `mapstructure:"retry_interval" json:"retry_interval"`
	MaxConnections       int    `mapstructure:"max_connections" json:"max_connections"`
	RegistrationDeadline string `mapstructure:"registration_deadline" json:"registration_deadline"`
	MessageCacheTTL      string `mapstructure:"message_cache_ttl" json:"message_cache_ttl"`
	MessageCacheSize     int    `mapstructure:"message_cache_size" json:"message_cache_size"`
	WriteTimeout         string `mapstructure:"write_timeout" json:"write_timeout"`
	SendQueueSize        int    `mapstructure:"send_queue_size" json:"send_queue_size"`
}

type ClientConfig struct {
	ServerURL             string   `mapstructure:"server_url" json:"server_url"`
	Identity              string   `mapstructure:"identity" json:"identity"`
	AutoReconnect         bool     `mapstructure:"auto_reconnect" json:"auto_reconnect"`
	ReconnectInitialDelay string   `mapstructure:"reconnect_initial_delay" json:"reconnect_initial_delay"`
	ReconnectMaxDelay     string   `mapstructure:"reconnect_max_delay" json:"reconnect_max_delay"`
	ConnectTimeout        string   `mapstructure:"connect_timeout" json:"connect_timeout"`
	HeartbeatInterval     string   `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	MaxMessageSize        int      `mapstructure:"max_message_size" json:"max_message_size"`
	ResendUnacked         bool     `mapstructure:"resend_unacked" json:"resend_unacked"`
	ReadLimit             int64    `mapstructure:"read_limit" json:"read_limit"`
	Channels              []string `mapstructure:"channels" json:"channels"`
}

type DatabaseConfig struct {
	Enabled            bool   `mapstructure:"enabled" json:"enabled"`
	Host               string `mapstructure:"host" json:"host"`
	Port               uint64 `mapstructure:"port" json:"port"`
	Username           string `mapstructure:"username" json:"username"`
	Password           string `mapstructure:"password" json:"password"`
	Database           string `mapstructure:"database" json:"database"`
	UseTLS             bool   `mapstructure:"use_tls" json:"use_tls"`
	ConnectTimeout     string `mapstructure:"connect_timeout" json:"connect_timeout"`
	SocketTimeout      string `mapstructure:"socket_timeout" json:"socket_timeout"`
	ConnectIdleTimeout string `mapstructure:"connect_idle_timeout" json:"connect_idle_timeout"`
	OperationTimeout   string `mapstructure:"operation_timeout" json:"operation_timeout"`
	Heartbeat          string `mapstructure:"heartbeat" json:"heartbeat"`
	MinPoolSize        uint64 `mapstructure:"min_pool_size" json:"min_pool_size"`
	MaxPoolSize        uint64 `mapstructure:"max_pool_size" json:"max_pool_size"`
}

type LogConfig struct {
	Directory  string `mapstructure:"directory" json:"directory"`
	FileName   string `mapstructure:"file_name" json:"file_name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

func Default() Config {
	return Config{
		AppName: "life-stream-hub",
		Hub: HubConfig{
			ListenAddress:        ":8080",
			HeartbeatInterval:    "30000ms",
			HeartbeatTimeout:     "150000ms",
			MaxMessageSize:       10240,
			MaxPayloadSize:       10240,
			MaxRetries:           3,
			RetryInterval:        "5000ms",
			MaxConnections:       1000,
			RegistrationDeadline: "30000ms",
			MessageCacheTTL:      "60000ms",
			MessageCacheSize:     4096,
			WriteTimeout:         "10s",
			SendQueueSize:        256,
		},
		Client: ClientConfig{
			ServerURL:             "ws://127.0.0.1:8080/ws",
			AutoReconnect:         true,
			ReconnectInitialDelay: "1000ms",
			ReconnectMaxDelay:     "60000ms",
			ConnectTimeout:        "10000ms",
			HeartbeatInterval:     "30000ms",
			MaxMessageSize:        10240,
			ReadLimit:             -1,
			Channels:              []string{},
		},
		Database: DatabaseConfig{
			Host:               "127.0.0.1",
			Port:               27017,
			Database:           "life_stream_hub",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        20,
		},
		Log: LogConfig{
			Directory:  "logs",
			FileName:   "hub.log",
			MaxSizeMB:  50,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
	}
}

var (
	mu          sync.Mutex
	config      Config
	initialized = false
)

// ReadConfig loads DefaultPath.
func ReadConfig() (Config, error) {
	return ReadConfigFile(DefaultPath)
}

// ReadConfigFile layers the file at path over Default(), then HUB_*
// environment variables over both (for example HUB_HUB_MAX_RETRIES). A
// missing file is replaced by a template and ErrConfigCreated is returned.
func ReadConfigFile(path string) (Config, error) {
	base, err := json.Marshal(Default())
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return Config{}, fmt.Errorf("error occured while loading default config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if werr := writeTemplate(path); werr != nil {
				return Default(), fmt.Errorf("error occured while creating config template: %w", werr)
			}
			return Default(), ErrConfigCreated
		}
		return Default(), fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("error occured while decoding config: %w", err)
	}

	mu.Lock()
	config = cfg
	initialized = true
	mu.Unlock()
	return cfg, nil
}

// GetConfig returns the last configuration read, reading DefaultPath on
// first use.
func GetConfig() (Config, error) {
	mu.Lock()
	if initialized {
		defer mu.Unlock()
		return config, nil
	}
	mu.Unlock()
	return ReadConfig()
}

func writeTemplate(path string) error {
	data, err := json.MarshalIndent(Default(), "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
