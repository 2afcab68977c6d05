package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// SetDefaults sets reasonable default values for HTTP server configuration
func (c *HttpServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
		fmt.Printf("Warning: http_server.read_timeout not set, defaulting to %v\n", c.ReadTimeout)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
		fmt.Printf("Warning: http_server.write_timeout not set, defaulting to %v\n", c.WriteTimeout)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
		fmt.Printf("Warning: http_server.idle_timeout not set, defaulting to %v\n", c.IdleTimeout)
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20 // 1 MB
		fmt.Printf("Warning: http_server.max_header_bytes not set, defaulting to %d\n", c.MaxHeaderBytes)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20 // 10 MB
		fmt.Printf("Warning: http_server.max_body_bytes not set, defaulting to %d\n", c.MaxBodyBytes)
	}
}

// Buffer modes
const (
	BufferModeBuffer    = "buffer"
	BufferModeBroadcast = "broadcast"
)

// BufferConfig defines the in-memory log buffer
type BufferConfig struct {
	Mode     string `yaml:"mode"`     // buffer or broadcast
	Capacity int    `yaml:"capacity"` // records kept in buffer mode
}

// SetDefaults sets reasonable default values for buffer configuration
func (c *BufferConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = BufferModeBuffer
		fmt.Printf("Warning: buffer.mode not set, defaulting to %s\n", c.Mode)
	}
	if c.Capacity <= 0 {
		c.Capacity = 1000
		fmt.Printf("Warning: buffer.capacity not set or invalid, defaulting to %d\n", c.Capacity)
	}
}

// Validate validates the buffer configuration
func (c *BufferConfig) Validate() error {
	if c.Mode != BufferModeBuffer && c.Mode != BufferModeBroadcast {
		return fmt.Errorf("buffer.mode must be %q or %q, got %q", BufferModeBuffer, BufferModeBroadcast, c.Mode)
	}
	if c.Capacity <= 0 {
		return errors.New("buffer.capacity must be positive")
	}
	return nil
}

// IDPoolConfig defines the pre-generated id pool
type IDPoolConfig struct {
	PoolSize        int    `yaml:"pool_size"`
	BatchSize       int    `yaml:"batch_size"`
	RefillThreshold int    `yaml:"refill_threshold"`
	Format          string `yaml:"format"` // uuid or ulid
}

// SetDefaults sets reasonable default values for id pool configuration
func (c *IDPoolConfig) SetDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10000
		fmt.Printf("Warning: id_pool.pool_size not set or invalid, defaulting to %d\n", c.PoolSize)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
		fmt.Printf("Warning: id_pool.batch_size not set or invalid, defaulting to %d\n", c.BatchSize)
	}
	if c.RefillThreshold <= 0 {
		c.RefillThreshold = 1000
		fmt.Printf("Warning: id_pool.refill_threshold not set or invalid, defaulting to %d\n", c.RefillThreshold)
	}
	if c.Format == "" {
		c.Format = "uuid"
		fmt.Printf("Warning: id_pool.format not set, defaulting to %s\n", c.Format)
	}
}

// Validate validates the id pool configuration
func (c *IDPoolConfig) Validate() error {
	if c.Format != "uuid" && c.Format != "ulid" {
		return fmt.Errorf("id_pool.format must be \"uuid\" or \"ulid\", got %q", c.Format)
	}
	if c.RefillThreshold > c.PoolSize {
		return fmt.Errorf("id_pool.refill_threshold (%d) cannot be greater than pool_size (%d)", c.RefillThreshold, c.PoolSize)
	}
	return nil
}

// ConnectionsConfig defines subscriber admission and lifecycle
type ConnectionsConfig struct {
	MaxConnections      int           `yaml:"max_connections"`
	MaxConnectionsPerIP int           `yaml:"max_connections_per_ip"`
	StaleTimeout        time.Duration `yaml:"stale_timeout"`
	ReapInterval        time.Duration `yaml:"reap_interval"`
	KeepAliveInterval   time.Duration `yaml:"keep_alive_interval"`
	SubscriberQueue     int           `yaml:"subscriber_queue"`
}

// SetDefaults sets reasonable default values for connection configuration
func (c *ConnectionsConfig) SetDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1000
		fmt.Printf("Warning: connections.max_connections not set or invalid, defaulting to %d\n", c.MaxConnections)
	}
	if c.MaxConnectionsPerIP <= 0 {
		c.MaxConnectionsPerIP = 10
		fmt.Printf("Warning: connections.max_connections_per_ip not set or invalid, defaulting to %d\n", c.MaxConnectionsPerIP)
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = time.Hour
		fmt.Printf("Warning: connections.stale_timeout not set, defaulting to %v\n", c.StaleTimeout)
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = 60 * time.Second
		fmt.Printf("Warning: connections.reap_interval not set, defaulting to %v\n", c.ReapInterval)
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 15 * time.Second
		fmt.Printf("Warning: connections.keep_alive_interval not set, defaulting to %v\n", c.KeepAliveInterval)
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = 256
		fmt.Printf("Warning: connections.subscriber_queue not set or invalid, defaulting to %d\n", c.SubscriberQueue)
	}
}

// Validate validates the connection configuration
func (c *ConnectionsConfig) Validate() error {
	if c.MaxConnectionsPerIP > c.MaxConnections {
		return fmt.Errorf("connections.max_connections_per_ip (%d) cannot be greater than max_connections (%d)",
			c.MaxConnectionsPerIP, c.MaxConnections)
	}
	if c.StaleTimeout < 0 || c.ReapInterval < 0 || c.KeepAliveInterval < 0 {
		return errors.New("connections durations cannot be negative")
	}
	return nil
}

// RelayConfig defines all configurations required for the relay
type RelayConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`

	HttpServer  HttpServerConfig  `yaml:"http_server"`
	Buffer      BufferConfig      `yaml:"buffer"`
	IDPool      IDPoolConfig      `yaml:"id_pool"`
	Connections ConnectionsConfig `yaml:"connections"`
	Sources     SourcesConfig     `yaml:"sources"`
}

// SetDefaults applies defaults to every section
func (c *RelayConfig) SetDefaults() {
	if c.HttpListenAddr == "" && c.GrpcListenAddr == "" {
		c.HttpListenAddr = ":8080"
		fmt.Printf("Warning: neither http_listen_addr nor grpc_listen_addr set, defaulting http_listen_addr to %s\n", c.HttpListenAddr)
	}
	c.HttpServer.SetDefaults()
	c.Buffer.SetDefaults()
	c.IDPool.SetDefaults()
	c.Connections.SetDefaults()
	c.Sources.SetDefaults()
}

// Validate validates the whole configuration
func (c *RelayConfig) Validate() error {
	if c.HttpListenAddr == "" && c.GrpcListenAddr == "" {
		return errors.New("configuration error: at least one of http_listen_addr or grpc_listen_addr must be configured")
	}
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer configuration error: %w", err)
	}
	if err := c.IDPool.Validate(); err != nil {
		return fmt.Errorf("id pool configuration error: %w", err)
	}
	if err := c.Connections.Validate(); err != nil {
		return fmt.Errorf("connections configuration error: %w", err)
	}
	if err := c.Sources.Validate(); err != nil {
		return fmt.Errorf("sources configuration error: %w", err)
	}
	return nil
}

// LoadRelayConfig loads relay configuration from the specified YAML file
// path. A missing file is not an error: defaults and environment overrides
// still apply.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	var cfg RelayConfig

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse relay YAML config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		fmt.Printf("Warning: config file '%s' not found, using defaults\n", path)
	default:
		return nil, fmt.Errorf("failed to read relay config file '%s': %w", path, err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
