package worker

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logrelay/config"
	"logrelay/internal/idpool"
	"logrelay/internal/messaging/consumer"
	"logrelay/internal/models"
	core "logrelay/relay/service/core"
)

var quietLogger = log.New(io.Discard, "", 0)

type call struct {
	channel string
	msgs    []string
}

type recordingIngester struct {
	mu    sync.Mutex
	calls []call
	panic bool
}

func (r *recordingIngester) Ingest(channel string, raws []map[string]any) []*models.LogRecord {
	if r.panic {
		panic("boom")
	}
	c := call{channel: channel}
	out := make([]*models.LogRecord, len(raws))
	for i, raw := range raws {
		msg, _ := raw["msg"].(string)
		c.msgs = append(c.msgs, msg)
		out[i] = &models.LogRecord{Msg: msg, Channel: channel}
	}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return out
}

func (r *recordingIngester) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func raw(channel string, msgs ...string) *models.RawLog {
	logs := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		logs[i] = map[string]any{"msg": m}
	}
	return &models.RawLog{Channel: channel, Logs: logs, ReceivedAt: time.Now()}
}

func TestGroupByChannelKeepsArrivalOrder(t *testing.T) {
	groups := groupByChannel([]*models.RawLog{
		raw("b", "1"),
		raw("a", "2"),
		nil,
		raw("b", "3", "4"),
		raw("c"),
		raw("a", "5"),
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].channel)
	assert.Len(t, groups[0].logs, 3)
	assert.Equal(t, "3", groups[0].logs[1]["msg"])
	assert.Equal(t, "a", groups[1].channel)
	assert.Len(t, groups[1].logs, 2)
}

func TestWorkerBatchesAndAcks(t *testing.T) {
	mock := consumer.NewMockConsumer(quietLogger,
		raw("app-1", "a"),
		raw("app-2", "b"),
		raw("app-1", "c"),
	)
	in := &recordingIngester{}
	w := New(config.WorkerConfig{Concurrency: 1, BatchSize: 3, BatchTimeout: "1s", ConsumerRetryDelay: "10ms"}, quietLogger, in, mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		acked, _ := mock.Acks()
		return acked == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []call{
		{channel: "app-1", msgs: []string{"a", "c"}},
		{channel: "app-2", msgs: []string{"b"}},
	}, in.snapshot())
}

func TestWorkerFlushesOnTimeout(t *testing.T) {
	mock := consumer.NewMockConsumer(quietLogger, raw("slow", "only"))
	in := &recordingIngester{}
	w := New(config.WorkerConfig{Concurrency: 1, BatchSize: 100, BatchTimeout: "20ms", ConsumerRetryDelay: "10ms"}, quietLogger, in, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(in.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "slow", in.snapshot()[0].channel)
}

func TestWorkerNacksWhenIngestPanics(t *testing.T) {
	mock := consumer.NewMockConsumer(quietLogger)
	in := &recordingIngester{panic: true}
	w := New(config.WorkerConfig{BatchSize: 1}, quietLogger, in, mock)

	w.processAndAckBatch(1, []*models.RawLog{raw("x", "1")}, []func(bool){func(ok bool) { assert.False(t, ok) }})
}

func TestWorkerRetriesAfterConsumerError(t *testing.T) {
	mock := consumer.NewMockConsumer(quietLogger)
	require.NoError(t, mock.Close())
	w := New(config.WorkerConfig{Concurrency: 2, BatchSize: 1, BatchTimeout: "bad", ConsumerRetryDelay: "5ms"}, quietLogger, &recordingIngester{}, mock)
	assert.Equal(t, 100*time.Millisecond, w.batchTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)
}

func TestWorkerFeedsService(t *testing.T) {
	svc := core.NewService(core.Options{
		BufferCapacity: 10,
		IDPool:         idpool.Options{PoolSize: 32, BatchSize: 8, RefillThreshold: 8},
	}, quietLogger)
	defer svc.Close()

	mock := consumer.NewMockConsumer(quietLogger, consumer.PredefinedMessages()...)
	w := New(config.WorkerConfig{Concurrency: 1, BatchSize: 10, BatchTimeout: "20ms", ConsumerRetryDelay: "10ms"}, quietLogger, svc, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(svc.Snapshot("")) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, svc.Snapshot("mock-app-1"), 2)
	errs := svc.Snapshot("mock-app-2")
	require.Len(t, errs, 2)
	assert.Equal(t, 40, errs[0].Level)
	assert.Equal(t, 50, errs[1].Level)
	assert.ElementsMatch(t, []string{"default", "mock-app-1", "mock-app-2"}, svc.ListChannels())
}
