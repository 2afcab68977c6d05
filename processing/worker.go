package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"logrelay/config"
	"logrelay/internal/messaging/consumer"
	"logrelay/internal/models"
)

// Ingester accepts raw logs for one channel. core.Service satisfies it.
type Ingester interface {
	Ingest(channel string, raws []map[string]any) []*models.LogRecord
}

// Worker drains a consumer in batches and feeds the relay
type Worker struct {
	workerConfig       config.WorkerConfig
	batchTimeout       time.Duration // Parsed from workerConfig.BatchTimeout
	consumerRetryDelay time.Duration // Parsed from workerConfig.ConsumerRetryDelay

	logger   *log.Logger
	ingester Ingester
	consumer consumer.Consumer
}

// New creates a new Worker instance
func New(cfg config.WorkerConfig, logger *log.Logger, in Ingester, c consumer.Consumer) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	batchTimeout, err := time.ParseDuration(cfg.BatchTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid batch_timeout '%s', using default 100ms", cfg.BatchTimeout)
		batchTimeout = 100 * time.Millisecond
	}

	consumerRetryDelay, err := time.ParseDuration(cfg.ConsumerRetryDelay)
	if err != nil {
		logger.Printf("Warning: Invalid consumer_retry_delay '%s', using default 5s", cfg.ConsumerRetryDelay)
		consumerRetryDelay = 5 * time.Second
	}

	return &Worker{
		workerConfig:       cfg,
		batchTimeout:       batchTimeout,
		consumerRetryDelay: consumerRetryDelay,
		logger:             logger,
		ingester:           in,
		consumer:           c,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Printf("Starting worker pool with concurrency: %d, BatchSize: %d, BatchTimeout: %s",
		w.workerConfig.Concurrency, w.workerConfig.BatchSize, w.batchTimeout)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.logger.Printf("Worker %d started", workerID)
			w.processMessagesInBatch(ctx, workerID)
			w.logger.Printf("Worker %d stopped", workerID)
		}(i + 1)
	}
	wg.Wait()
	w.logger.Println("Worker pool stopped.")
}

// processMessagesInBatch is the main loop for a worker goroutine
func (w *Worker) processMessagesInBatch(ctx context.Context, workerID int) {
	batchMessages := make([]*models.RawLog, 0, w.workerConfig.BatchSize)
	acks := make([]func(success bool), 0, w.workerConfig.BatchSize)
	batchTimer := time.NewTimer(0)
	if !batchTimer.Stop() {
		select {
		case <-batchTimer.C:
		default:
		}
	}

	processBatch := func() {
		if len(batchMessages) == 0 {
			return
		}

		if !batchTimer.Stop() {
			select {
			case <-batchTimer.C:
			default:
			}
		}

		w.processAndAckBatch(workerID, batchMessages, acks)

		batchMessages = make([]*models.RawLog, 0, w.workerConfig.BatchSize)
		acks = make([]func(success bool), 0, w.workerConfig.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("Worker %d: Context cancelled, stopping.", workerID)
			// Already decoded, deliver rather than drop.
			processBatch()
			return

		case <-batchTimer.C:
			processBatch()

		default:
			consumeCtx, consumeCancel := context.WithTimeout(ctx, 100*time.Millisecond)
			msg, ack, err := w.consumer.Consume(consumeCtx)
			consumeCancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				w.logger.Printf("Worker %d: Consumer error: %v", workerID, err)
				select {
				case <-ctx.Done():
				case <-time.After(w.consumerRetryDelay):
				}
				continue
			}

			if msg != nil {
				if len(batchMessages) == 0 {
					batchTimer.Reset(w.batchTimeout)
				}

				batchMessages = append(batchMessages, msg)
				acks = append(acks, ack)

				if len(batchMessages) >= w.workerConfig.BatchSize {
					processBatch()
				}
			}
		}
	}
}

// processAndAckBatch ingests the batch and acknowledges every message
func (w *Worker) processAndAckBatch(workerID int, batch []*models.RawLog, acks []func(success bool)) {
	err := w.handleBatch(batch)
	if err != nil {
		w.logger.Printf("Worker %d: Batch failed: %v (nacking %d messages)", workerID, err, len(acks))
	}
	for _, ack := range acks {
		if ack != nil {
			ack(err == nil)
		}
	}
}

// handleBatch groups messages by channel, keeping first-seen channel order
// and arrival order inside each channel, and ingests one group at a time.
func (w *Worker) handleBatch(batch []*models.RawLog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest panicked: %v", r)
		}
	}()

	groups := groupByChannel(batch)
	total := 0
	for _, g := range groups {
		total += len(w.ingester.Ingest(g.channel, g.logs))
	}
	if total > 0 {
		w.logger.Printf("Worker: ingested %d records from %d messages across %d channels", total, len(batch), len(groups))
	}
	return nil
}

type channelGroup struct {
	channel string
	logs    []map[string]any
}

func groupByChannel(batch []*models.RawLog) []channelGroup {
	index := make(map[string]int)
	var groups []channelGroup
	for _, msg := range batch {
		if msg == nil || len(msg.Logs) == 0 {
			continue
		}
		i, ok := index[msg.Channel]
		if !ok {
			i = len(groups)
			index[msg.Channel] = i
			groups = append(groups, channelGroup{channel: msg.Channel})
		}
		groups[i].logs = append(groups[i].logs, msg.Logs...)
	}
	return groups
}
