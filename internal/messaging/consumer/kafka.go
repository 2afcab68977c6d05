package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"logrelay/config"
	"logrelay/internal/models"
	"logrelay/internal/payload"

	"github.com/segmentio/kafka-go"
)

// ChannelHeader is the Kafka message header naming the relay channel.
const ChannelHeader = "channel"

// KafkaConsumer implements the Consumer interface to consume log batches from Kafka
type KafkaConsumer struct {
	reader         *kafka.Reader
	decoder        *payload.Decoder
	defaultChannel string
	logger         *log.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, logger *log.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	r := kafka.NewReader(readerConfig(cfg, logger))

	logger.Printf("Kafka consumer created, connected to Brokers: %v, Topic: %s, GroupID: %s", cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &KafkaConsumer{
		reader:         r,
		decoder:        &payload.Decoder{},
		defaultChannel: cfg.DefaultChannel,
		logger:         logger,
	}, nil
}

func readerConfig(cfg config.KafkaConsumerConfig, logger *log.Logger) kafka.ReaderConfig {
	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid session_timeout '%s', using default 30s", cfg.SessionTimeout)
		sessionTimeout = 30 * time.Second
	}

	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		logger.Printf("Warning: Invalid heartbeat_interval '%s', using default 3s", cfg.HeartbeatInterval)
		heartbeatInterval = 3 * time.Second
	}

	rc := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          1,               // deliver as soon as anything arrives
		MaxBytes:          10e6,            // 10MB
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       kafka.LastOffset,
	}

	switch cfg.AutoOffsetReset {
	case "", "latest":
		rc.StartOffset = kafka.LastOffset
	case "earliest":
		rc.StartOffset = kafka.FirstOffset
	default:
		logger.Printf("Warning: Unknown auto_offset_reset '%s', using latest", cfg.AutoOffsetReset)
	}
	return rc
}

// Consume implements the Consumer interface by reading messages from Kafka
func (k *KafkaConsumer) Consume(ctx context.Context) (msg *models.RawLog, ack func(success bool), err error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			k.logger.Println("Kafka consumer: Context cancelled, stopping consumption.")
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	raw, err := decodeMessage(k.decoder, kafkaMsg, k.defaultChannel)
	if err != nil {
		k.logger.Printf("Kafka consumer: Failed to decode message (Offset: %d): %v. Message will be discarded.", kafkaMsg.Offset, err)
		_ = k.reader.CommitMessages(ctx, kafkaMsg) // Commit offset to avoid blocking
		return nil, nil, fmt.Errorf("message decoding failed: %w", err)
	}

	ackCallback := func(success bool) {
		if success {
			if err := k.reader.CommitMessages(context.Background(), kafkaMsg); err != nil {
				k.logger.Printf("Kafka consumer: Failed to commit offset %d: %v", kafkaMsg.Offset, err)
			}
		} else {
			k.logger.Printf("Kafka consumer: NACK received for offset %d (channel %q). Offset will not be committed.", kafkaMsg.Offset, raw.Channel)
		}
	}

	return raw, ackCallback, nil
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Println("Closing Kafka consumer...")
	return k.reader.Close()
}

// decodeMessage turns one Kafka message into a RawLog. The channel header
// wins over an envelope channel, which wins over the configured default.
func decodeMessage(dec *payload.Decoder, m kafka.Message, defaultChannel string) (*models.RawLog, error) {
	batch, err := dec.Decode(m.Value)
	if err != nil {
		return nil, err
	}

	channel := defaultChannel
	if batch.Channel != "" {
		channel = batch.Channel
	}
	for _, h := range m.Headers {
		if h.Key == ChannelHeader && len(h.Value) > 0 {
			channel = string(h.Value)
			break
		}
	}

	receivedAt := m.Time
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return &models.RawLog{Channel: channel, Logs: batch.Logs, ReceivedAt: receivedAt}, nil
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)
