package core

import "logrelay/internal/models"

// Event is something the buffer or channel registry publishes to the hub.
// The set is closed: RecordAppended, BatchAppended, ChannelAdded and Cleared.
type Event interface {
	isEvent()
}

// RecordAppended carries one record appended to the buffer.
type RecordAppended struct {
	Record *models.LogRecord
}

// BatchAppended carries every record of one AppendBatch call, in order.
type BatchAppended struct {
	Records []*models.LogRecord
}

// ChannelAdded announces a channel seen for the first time since the last reset.
type ChannelAdded struct {
	Channel string
}

// Cleared announces a clear. An empty Channel means everything was cleared.
type Cleared struct {
	Channel string
}

func (RecordAppended) isEvent() {}
func (BatchAppended) isEvent()  {}
func (ChannelAdded) isEvent()   {}
func (Cleared) isEvent()        {}

// Wire names used by the streaming transports
const (
	WireInit    = "init"
	WireLog     = "log"
	WireBatch   = "batch"
	WireChannel = "channel"
	WireClear   = "clear"
	WirePing    = "ping"
)

// Describe returns the wire name of ev and a JSON-encodable payload for it.
func Describe(ev Event) (string, any) {
	switch e := ev.(type) {
	case RecordAppended:
		return WireLog, e.Record
	case BatchAppended:
		return WireBatch, map[string]any{"logs": e.Records}
	case ChannelAdded:
		return WireChannel, map[string]any{"channel": e.Channel}
	case Cleared:
		return WireClear, map[string]any{"channel": e.Channel}
	default:
		return "", nil
	}
}
