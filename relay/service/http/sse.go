package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"logrelay/internal/models"
	core "logrelay/relay/service/core"
)

const sseBufSize = 32 << 10

// Stream handles GET /api/logs/stream: an init event with the snapshot,
// then live events and periodic keep-alive comments until the client goes
// away, the connection is reaped, or the relay shuts down.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	filter, err := core.CompileFilter(q.Get("filter"))
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, verdict := h.svc.Subscribe(core.SubscribeRequest{
		Channel:    channel,
		Filter:     filter,
		RemoteAddr: r.RemoteAddr,
	})
	switch verdict {
	case core.Admitted:
	case core.RejectedAddressLimit:
		h.respondError(w, verdict.String(), http.StatusTooManyRequests)
		return
	default:
		h.respondError(w, verdict.String(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	// The server-wide write timeout would cut every stream short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	bw := bufio.NewWriterSize(w, sseBufSize)
	var out io.Writer = bw
	var zw *gzip.Writer
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		zw = gzip.NewWriter(bw)
		out = zw
		defer zw.Close()
	}
	w.WriteHeader(http.StatusOK)

	flush := func() error {
		if zw != nil {
			if err := zw.Flush(); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	snapshot := sub.Snapshot
	if snapshot == nil {
		snapshot = []*models.LogRecord{}
	}
	mode := core.ModeBuffer
	if h.svc.BroadcastOnly() {
		mode = core.ModeBroadcastOnly
	}
	n, err := writeSSE(out, core.WireInit, map[string]any{
		"connectionId": sub.ID,
		"channel":      channel,
		"mode":         mode,
		"logs":         snapshot,
		"channels":     h.svc.ListChannels(),
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		sub.Dropped()
		return
	}
	sub.Delivered(n)

	ticker := time.NewTicker(h.svc.KeepAliveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			_, _ = io.WriteString(out, ": closed\n\n")
			_ = flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(out, ": ping\n\n"); err != nil {
				return
			}
			if err := flush(); err != nil {
				return
			}
			sub.Touch()
		case ev := <-sub.Events():
			name, data := core.Describe(ev)
			n, err := writeSSE(out, name, data)
			if err == nil {
				err = flush()
			}
			if err != nil {
				sub.Dropped()
				h.logger.Printf("HTTP Handler: Stream %s write failed: %v", sub.ID, err)
				return
			}
			sub.Delivered(n)
		}
	}
}

// writeSSE writes one event frame and returns the bytes written.
func writeSSE(w io.Writer, event string, data any) (int, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encode %s event: %w", event, err)
	}
	return fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}
