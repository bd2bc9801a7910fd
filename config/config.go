// Package config loads objecthub configuration from TOML.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/objecthub/logging"
)

// Duration is a time.Duration that decodes from strings such as "2s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete hub configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Query     QueryConfig     `toml:"query"`
	Mirror    MirrorConfig    `toml:"mirror"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
	Transport TransportConfig `toml:"transport"`
}

// ServerConfig configures the two listeners.
type ServerConfig struct {
	Host     string `toml:"host"`
	BasePort int    `toml:"base_port"` // HTTP API; websocket uses BasePort+1
	Any      bool   `toml:"any"`       // listen on every interface
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Persist  string `toml:"persist"` // empty means transient
	ReadOnly bool   `toml:"read_only"`
}

// QueryConfig configures the query window.
type QueryConfig struct {
	Window Duration `toml:"window"`
}

// MirrorConfig configures the optional notification mirrors.
type MirrorConfig struct {
	NATSURL       string `toml:"nats_url"`
	Journal       string `toml:"journal"` // JSON-lines file of every broadcast
	SubjectPrefix string `toml:"subject_prefix"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
	Debug       bool   `toml:"debug"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TransportConfig configures websocket connections.
type TransportConfig struct {
	SendBuffer     int      `toml:"send_buffer"`
	PingInterval   Duration `toml:"ping_interval"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxMessageSize int64    `toml:"max_message_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "localhost",
			BasePort: 3193,
		},
		Query: QueryConfig{
			Window: Duration{2 * time.Second},
		},
		Mirror: MirrorConfig{
			SubjectPrefix: "objecthub",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "objecthub",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Transport: TransportConfig{
			SendBuffer:     256,
			PingInterval:   Duration{30 * time.Second},
			WriteTimeout:   Duration{10 * time.Second},
			MaxMessageSize: 1 << 20,
		},
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(string(content))
}

// Parse decodes TOML content over the defaults and validates the result.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key: %s", undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.BasePort < 1 || c.Server.BasePort > 65534 {
		return fmt.Errorf("server.base_port %d out of range 1-65534", c.Server.BasePort)
	}
	if c.Query.Window.Duration <= 0 {
		return fmt.Errorf("query.window must be positive")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol %q: use grpc or http", c.Telemetry.Protocol)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Transport.SendBuffer <= 0 {
		return fmt.Errorf("transport.send_buffer must be positive")
	}
	if c.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("transport.max_message_size must be positive")
	}
	if c.Transport.PingInterval.Duration < 0 || c.Transport.WriteTimeout.Duration < 0 {
		return fmt.Errorf("transport durations must not be negative")
	}
	return nil
}

// ListenHost is the interface the listeners bind to.
func (c *Config) ListenHost() string {
	if c.Server.Any {
		return "0.0.0.0"
	}
	return c.Server.Host
}

// Addr is the HTTP API listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenHost(), strconv.Itoa(c.Server.BasePort))
}

// WSAddr is the websocket listen address.
func (c *Config) WSAddr() string {
	return net.JoinHostPort(c.ListenHost(), strconv.Itoa(c.Server.BasePort+1))
}

// Persistent reports whether a persistence directory is configured.
func (c *Config) Persistent() bool {
	return c.Store.Persist != ""
}
