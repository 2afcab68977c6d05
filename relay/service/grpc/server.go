package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"logrelay/internal/models"
	core "logrelay/relay/service/core"
)

// Server implements the RelayServer interface
type Server struct {
	svc    *core.Service
	logger *log.Logger
}

// NewServer creates a new gRPC Server instance
func NewServer(s *core.Service, l *log.Logger) *Server {
	return &Server{svc: s, logger: l}
}

// Ingest accepts {"channel": "...", "logs": [...]} or a single record.
func (s *Server) Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	channel := stringField(fields, "channel")

	var raws []map[string]any
	if list, ok := fields["logs"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				raws = append(raws, m)
			}
		}
		// The envelope channel is applied to every record.
	} else {
		raws = []map[string]any{fields}
		channel = ""
	}

	records := s.svc.Ingest(channel, raws)

	ids := make([]any, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return structpb.NewStruct(map[string]any{
		"received": len(records),
		"ids":      ids,
	})
}

// Clear empties one channel, or the whole buffer when no channel is given.
func (s *Server) Clear(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	channel := stringField(req.AsMap(), "channel")
	s.svc.Clear(channel)
	s.logger.Printf("gRPC Server: Cleared logs (channel=%q)", channel)
	return structpb.NewStruct(map[string]any{"cleared": true, "channel": channel})
}

// ListChannels returns the known channel names.
func (s *Server) ListChannels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	names := s.svc.ListChannels()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]any{"channels": list})
}

// Stats returns the relay statistics.
func (s *Server) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.svc.Stats()
	out, err := encodeStruct(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	out.Fields["startedAt"] = structpb.NewStringValue(formatTimestamp(st.StartedAt))
	return out, nil
}

// Subscribe streams an init message, then live events and periodic pings.
// The request may carry "channel" and "filter".
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	fields := req.AsMap()
	channel := stringField(fields, "channel")
	filter, err := core.CompileFilter(stringField(fields, "filter"))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	remote := ""
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	sub, verdict := s.svc.Subscribe(core.SubscribeRequest{Channel: channel, Filter: filter, RemoteAddr: remote})
	if !verdict.OK() {
		return status.Error(codes.ResourceExhausted, verdict.String())
	}
	defer sub.Close()

	snapshot := sub.Snapshot
	if snapshot == nil {
		snapshot = []*models.LogRecord{}
	}
	mode := core.ModeBuffer
	if s.svc.BroadcastOnly() {
		mode = core.ModeBroadcastOnly
	}
	if err := s.send(stream, sub, map[string]any{
		"type":         core.WireInit,
		"connectionId": sub.ID,
		"channel":      channel,
		"mode":         mode,
		"logs":         snapshot,
		"channels":     s.svc.ListChannels(),
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(s.svc.KeepAliveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-sub.Done():
			return nil
		case <-ticker.C:
			ping, err := encodeStruct(map[string]any{"type": core.WirePing})
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			ping.Fields["time"] = structpb.NewStringValue(formatTimestamp(time.Now()))
			if err := stream.SendMsg(ping); err != nil {
				return err
			}
			sub.Touch()
		case ev := <-sub.Events():
			if err := s.send(stream, sub, eventMessage(ev)); err != nil {
				return err
			}
		}
	}
}

// send encodes msg, writes it and accounts the result on sub.
func (s *Server) send(stream grpc.ServerStream, sub *core.Subscriber, msg map[string]any) error {
	out, err := encodeStruct(msg)
	if err != nil {
		sub.Dropped()
		return status.Errorf(codes.Internal, "encode message: %v", err)
	}
	if err := stream.SendMsg(out); err != nil {
		sub.Dropped()
		s.logger.Printf("gRPC Server: Stream %s send failed: %v", sub.ID, err)
		return err
	}
	sub.Delivered(proto.Size(out))
	return nil
}

func eventMessage(ev core.Event) map[string]any {
	name, data := core.Describe(ev)
	msg := map[string]any{"type": name}
	switch d := data.(type) {
	case *models.LogRecord:
		msg["log"] = d
	case map[string]any:
		for k, v := range d {
			msg[k] = v
		}
	}
	return msg
}

// encodeStruct converts any JSON-encodable value into a Struct, honoring the
// value's JSON tags.
func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return out, nil
}

// formatTimestamp renders t in the protobuf Timestamp JSON form.
func formatTimestamp(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return strings.Trim(string(b), `"`)
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

// Ensure Server implements the interface (compile-time check)
var _ RelayServer = (*Server)(nil)
