package config

import (
	"errors"
	"fmt"
)

// KafkaConsumerConfig defines configuration for the Kafka ingest source
type KafkaConsumerConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`            // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`              // Topic to consume from
	GroupID           string   `yaml:"group_id"`           // Consumer group ID
	Count             int      `yaml:"count"`              // Number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`    // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"` // Kafka heartbeat interval
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`  // earliest/latest
	DefaultChannel    string   `yaml:"default_channel"`    // Channel when neither header nor body names one
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if !c.Enabled {
		return
	}
	if c.Count <= 0 {
		c.Count = 1
		fmt.Printf("Warning: kafka_consumer.count not set or invalid, defaulting to %d\n", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		fmt.Printf("Warning: kafka_consumer.session_timeout not set, defaulting to %s\n", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		fmt.Printf("Warning: kafka_consumer.heartbeat_interval not set, defaulting to %s\n", c.HeartbeatInterval)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "latest"
		fmt.Printf("Warning: kafka_consumer.auto_offset_reset not set, defaulting to %s\n", c.AutoOffsetReset)
	}
}

// Validate validates the Kafka consumer configuration
func (c *KafkaConsumerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 || c.Topic == "" || c.GroupID == "" {
		return errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}
	return nil
}

// PGNotifyConfig defines the Postgres LISTEN/NOTIFY ingest source
type PGNotifyConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Database       DatabaseConfig `yaml:"database"`
	Channels       []string       `yaml:"channels"`        // Postgres notification channels to LISTEN on
	DefaultChannel string         `yaml:"default_channel"` // Relay channel when the payload names none
}

// SetDefaults sets reasonable default values for the NOTIFY source
func (c *PGNotifyConfig) SetDefaults() {
	if !c.Enabled {
		return
	}
	c.Database.SetDefaults()
	if len(c.Channels) == 0 {
		c.Channels = []string{"logrelay"}
		fmt.Printf("Warning: pg_notify.channels not set, defaulting to %v\n", c.Channels)
	}
}

// Validate validates the NOTIFY source configuration
func (c *PGNotifyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// WorkerConfig defines configuration for source workers
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`          // Number of concurrent workers per consumer
	BatchSize          int    `yaml:"batch_size"`           // Messages per ingest batch
	BatchTimeout       string `yaml:"batch_timeout"`        // Maximum wait time for batch
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
		fmt.Printf("Warning: worker.concurrency not set or invalid, defaulting to %d\n", c.Concurrency)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
		fmt.Printf("Warning: worker.batch_size not set or invalid, defaulting to %d\n", c.BatchSize)
	}
	if c.BatchTimeout == "" {
		c.BatchTimeout = "100ms"
		fmt.Printf("Warning: worker.batch_timeout not set, defaulting to %s\n", c.BatchTimeout)
	}
	if c.ConsumerRetryDelay == "" {
		c.ConsumerRetryDelay = "5s"
		fmt.Printf("Warning: worker.consumer_retry_delay not set, defaulting to %s\n", c.ConsumerRetryDelay)
	}
}

// SourcesConfig groups the optional ingest sources
type SourcesConfig struct {
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`
	PGNotify      PGNotifyConfig      `yaml:"pg_notify"`
	Worker        WorkerConfig        `yaml:"worker"`
}

// Any reports whether at least one source is enabled
func (c *SourcesConfig) Any() bool {
	return c.KafkaConsumer.Enabled || c.PGNotify.Enabled
}

// SetDefaults applies defaults to every enabled source
func (c *SourcesConfig) SetDefaults() {
	c.KafkaConsumer.SetDefaults()
	c.PGNotify.SetDefaults()
	if c.Any() {
		c.Worker.SetDefaults()
	}
}

// Validate validates every enabled source
func (c *SourcesConfig) Validate() error {
	if err := c.KafkaConsumer.Validate(); err != nil {
		return err
	}
	return c.PGNotify.Validate()
}
