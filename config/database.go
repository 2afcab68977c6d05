package config

import "fmt"

// DatabaseConfig defines the Postgres connection used by the NOTIFY source
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" json:"dsn"`                         // PostgreSQL connection string
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"` // Timeout for each (re)connect attempt
	ReconnectDelay string `yaml:"reconnect_delay" json:"reconnect_delay"` // Wait between reconnect attempts
}

// SetDefaults sets sensible default values for the database configuration
func (c *DatabaseConfig) SetDefaults() {
	if c.ConnectTimeout == "" {
		c.ConnectTimeout = "10s"
		fmt.Printf("Warning: database.connect_timeout not set, defaulting to %s\n", c.ConnectTimeout)
	}
	if c.ReconnectDelay == "" {
		c.ReconnectDelay = "5s"
		fmt.Printf("Warning: database.reconnect_delay not set, defaulting to %s\n", c.ReconnectDelay)
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}

// LogConfiguration logs the database configuration (excluding sensitive DSN)
func (c *DatabaseConfig) LogConfiguration() {
	fmt.Printf("Database Configuration:\n")
	fmt.Printf("  Connect Timeout: %s\n", c.ConnectTimeout)
	fmt.Printf("  Reconnect Delay: %s\n", c.ReconnectDelay)
	fmt.Printf("  DSN: [configured]\n") // Don't log the actual DSN for security
}
