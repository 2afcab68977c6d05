package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"logrelay/config"
	"logrelay/internal/models"
	"logrelay/internal/payload"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// PGNotifyConsumer implements the Consumer interface on Postgres LISTEN/NOTIFY.
// A single listen connection feeds a buffered queue; it reconnects after
// reconnect_delay when the connection drops. Notifications are not
// redelivered, so a NACK only logs.
type PGNotifyConsumer struct {
	cfg            config.PGNotifyConfig
	connectTimeout time.Duration
	reconnectDelay time.Duration
	decoder        *payload.Decoder
	logger         *log.Logger

	queue  chan *models.RawLog
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPGNotifyConsumer connects, issues LISTEN for every configured channel and
// starts the notification loop. The first connection must succeed.
func NewPGNotifyConsumer(ctx context.Context, cfg config.PGNotifyConfig, logger *log.Logger) (*PGNotifyConsumer, error) {
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("pg_notify: at least one channel is required")
	}

	connectTimeout, err := time.ParseDuration(cfg.Database.ConnectTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid connect_timeout '%s', using default 10s", cfg.Database.ConnectTimeout)
		connectTimeout = 10 * time.Second
	}
	reconnectDelay, err := time.ParseDuration(cfg.Database.ReconnectDelay)
	if err != nil {
		logger.Printf("Warning: Invalid reconnect_delay '%s', using default 5s", cfg.Database.ReconnectDelay)
		reconnectDelay = 5 * time.Second
	}

	c := &PGNotifyConsumer{
		cfg:            cfg,
		connectTimeout: connectTimeout,
		reconnectDelay: reconnectDelay,
		decoder:        &payload.Decoder{},
		logger:         logger,
		queue:          make(chan *models.RawLog, 1024),
	}

	conn, err := c.listen(ctx)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(loopCtx, conn)

	cfg.Database.LogConfiguration()
	logger.Printf("PG notify consumer created, listening on channels: %v", cfg.Channels)
	return c, nil
}

func (c *PGNotifyConsumer) listen(ctx context.Context) (*pgx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := pgx.Connect(connectCtx, c.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg_notify: connect failed: %w", err)
	}
	for _, ch := range c.cfg.Channels {
		if _, err := conn.Exec(connectCtx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, fmt.Errorf("pg_notify: LISTEN %s failed: %w", ch, err)
		}
	}
	return conn, nil
}

func (c *PGNotifyConsumer) run(ctx context.Context, conn *pgx.Conn) {
	defer c.wg.Done()
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			var err error
			if conn, err = c.listen(ctx); err != nil {
				c.logger.Printf("PG notify consumer: Reconnect failed: %v", err)
				conn = nil
				continue
			}
			c.logger.Println("PG notify consumer: Reconnected")
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("PG notify consumer: Connection lost: %v", err)
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		raw, err := decodeNotification(c.decoder, n, c.cfg.DefaultChannel)
		if err != nil {
			c.logger.Printf("PG notify consumer: Failed to decode payload on %s: %v. Notification discarded.", n.Channel, err)
			continue
		}
		select {
		case c.queue <- raw:
		case <-ctx.Done():
			return
		}
	}
}

// Consume implements the Consumer interface.
func (c *PGNotifyConsumer) Consume(ctx context.Context) (msg *models.RawLog, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case raw := <-c.queue:
		return raw, func(success bool) {
			if !success {
				c.logger.Printf("PG notify consumer: NACK for channel %q, notification cannot be redelivered", raw.Channel)
			}
		}, nil
	}
}

// Close stops the notification loop and closes the listen connection.
func (c *PGNotifyConsumer) Close() error {
	c.once.Do(func() {
		c.logger.Println("Closing PG notify consumer...")
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// decodeNotification turns one notification into a RawLog. An envelope
// channel wins over the configured default.
func decodeNotification(dec *payload.Decoder, n *pgconn.Notification, defaultChannel string) (*models.RawLog, error) {
	batch, err := dec.Decode([]byte(n.Payload))
	if err != nil {
		return nil, err
	}
	channel := defaultChannel
	if batch.Channel != "" {
		channel = batch.Channel
	}
	return &models.RawLog{Channel: channel, Logs: batch.Logs, ReceivedAt: time.Now()}, nil
}

var _ Consumer = (*PGNotifyConsumer)(nil)
