package models

import "time"

// Level labels used on the wire
const (
	LabelTrace = "trace"
	LabelDebug = "debug"
	LabelInfo  = "info"
	LabelWarn  = "warn"
	LabelError = "error"
	LabelFatal = "fatal"
)

// LevelInfo is the numeric level assigned when a record carries none
const LevelInfo = 30

// DefaultChannel is the channel used when a producer names none
const DefaultChannel = "default"

var levelLabels = map[int]string{
	10: LabelTrace,
	20: LabelDebug,
	30: LabelInfo,
	40: LabelWarn,
	50: LabelError,
	60: LabelFatal,
}

// LevelLabel maps a numeric level to its canonical label. Values off the
// 10..60 grid map to "info".
func LevelLabel(level int) string {
	if l, ok := levelLabels[level]; ok {
		return l
	}
	return LabelInfo
}

// LogRecord is the canonical, normalized log entry distributed by the relay.
// Once built by the normalizer it is shared read-only between the buffer and
// every subscriber.
type LogRecord struct {
	ID         string         `json:"id"`
	Level      int            `json:"level"`
	LevelLabel string         `json:"levelLabel"`
	Time       int64          `json:"time"` // epoch milliseconds
	Msg        string         `json:"msg"`
	Namespace  string         `json:"namespace,omitempty"`
	Channel    string         `json:"channel"`
	Data       map[string]any `json:"data"`

	// Encrypted records carry an opaque payload the relay never reads.
	Encrypted     bool   `json:"encrypted,omitempty"`
	EncryptedData string `json:"encryptedData,omitempty"`
}

// Timestamp returns the record time as a time.Time.
func (r *LogRecord) Timestamp() time.Time {
	return time.UnixMilli(r.Time)
}

// RawLog is a decoded producer message before normalization.
// Used by ingest sources and the processing worker.
type RawLog struct {
	Channel    string           `json:"channel"`
	Logs       []map[string]any `json:"logs"`
	ReceivedAt time.Time        `json:"receivedAt"`
}
