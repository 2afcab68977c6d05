package consumer

import (
	"context"

	"logrelay/internal/models"
)

// Consumer defines the interface for ingest sources feeding the relay.
type Consumer interface {
	// Consume blocks until a message is received or the context is cancelled.
	// It returns the decoded logs, an acknowledgement callback, and any error that occurred.
	// The ack callback: ack(true) once the logs are in the relay;
	// ack(false) for temporary failure (the source may redeliver).
	Consume(ctx context.Context) (msg *models.RawLog, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
