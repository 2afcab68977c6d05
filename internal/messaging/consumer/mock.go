package consumer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"logrelay/internal/models"
)

// MockConsumer replays in-memory messages. Used by worker tests and local runs.
type MockConsumer struct {
	logger   *log.Logger
	messages chan *models.RawLog

	mu     sync.Mutex
	acked  int
	nacked int
	closed bool
}

// PredefinedMessages returns a small fixed batch spanning two channels.
func PredefinedMessages() []*models.RawLog {
	now := time.Now()
	return []*models.RawLog{
		{Channel: "mock-app-1", ReceivedAt: now, Logs: []map[string]any{
			{"level": float64(30), "msg": "mock started"},
		}},
		{Channel: "mock-app-2", ReceivedAt: now, Logs: []map[string]any{
			{"level": "warn", "msg": "disk at 80%"},
			{"level": "error", "msg": "disk full"},
		}},
		{Channel: "mock-app-1", ReceivedAt: now, Logs: []map[string]any{
			{"level": float64(20), "msg": "tick"},
		}},
	}
}

// NewMockConsumer creates a MockConsumer preloaded with msgs.
func NewMockConsumer(logger *log.Logger, msgs ...*models.RawLog) *MockConsumer {
	mc := &MockConsumer{
		logger:   logger,
		messages: make(chan *models.RawLog, len(msgs)+16),
	}
	for _, msg := range msgs {
		mc.messages <- msg
	}
	logger.Printf("[MockConsumer] Loaded %d messages", len(msgs))
	return mc
}

// Push queues another message. It reports false when the queue is full or closed.
func (m *MockConsumer) Push(msg *models.RawLog) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.messages <- msg:
		return true
	default:
		return false
	}
}

// Consume reads queued messages.
func (m *MockConsumer) Consume(ctx context.Context) (msg *models.RawLog, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case msg, ok := <-m.messages:
		if !ok {
			return nil, nil, errors.New("message channel closed")
		}

		ackCallback := func(success bool) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if success {
				m.acked++
				return
			}
			m.nacked++
			if m.closed {
				return
			}
			select {
			case m.messages <- msg:
			default:
				m.logger.Printf("[MockConsumer] Warning: Failed to re-queue message (channel full?): channel=%s", msg.Channel)
			}
		}
		return msg, ackCallback, nil
	}
}

// Acks returns how many messages were acked and nacked so far.
func (m *MockConsumer) Acks() (acked, nacked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.nacked
}

// Close closes the message channel.
func (m *MockConsumer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.messages)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
