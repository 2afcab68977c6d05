package core

import (
	"math"
	"strconv"
	"strings"
	"time"

	"logrelay/internal/models"
)

// IDSource hands out unique record ids. *idpool.Pool satisfies it.
type IDSource interface {
	Take() string
}

// Input field names recognized by the normalizer
const (
	fieldEncrypted = "encrypted"
	fieldLevel     = "level"
	fieldTime      = "time"
	fieldMsg       = "msg"
	fieldMessage   = "message"
	fieldNamespace = "namespace"
	fieldName      = "name"
	fieldID        = "id"
	fieldChannel   = "channel"
)

var levelNames = map[string]int{
	"trace":    10,
	"debug":    20,
	"info":     30,
	"warn":     40,
	"warning":  40,
	"error":    50,
	"fatal":    60,
	"critical": 60,
}

// Normalizer turns heterogeneous producer payloads into canonical records.
type Normalizer struct {
	ids IDSource
	now func() time.Time
}

// NewNormalizer returns a Normalizer drawing ids from ids.
func NewNormalizer(ids IDSource) *Normalizer {
	return &Normalizer{ids: ids, now: time.Now}
}

// Normalize builds a canonical record from raw. It never fails: missing or
// wrongly typed fields fall back to their defaults.
func (n *Normalizer) Normalize(raw map[string]any, channel string) *models.LogRecord {
	ch := ResolveChannel(channel, raw)

	if blob, ok := raw[fieldEncrypted].(string); ok {
		return &models.LogRecord{
			ID:            n.ids.Take(),
			Level:         models.LevelInfo,
			LevelLabel:    models.LabelInfo,
			Time:          n.now().UnixMilli(),
			Channel:       ch,
			Data:          map[string]any{},
			Encrypted:     true,
			EncryptedData: blob,
		}
	}

	level := parseLevel(raw[fieldLevel])
	rec := &models.LogRecord{
		ID:         n.ids.Take(),
		Level:      level,
		LevelLabel: models.LevelLabel(level),
		Time:       n.parseTime(raw[fieldTime]),
		Msg:        firstString(raw, fieldMsg, fieldMessage),
		Namespace:  firstString(raw, fieldNamespace, fieldName),
		Channel:    ch,
		Data:       make(map[string]any, len(raw)),
	}

	for k, v := range raw {
		switch k {
		case fieldLevel, fieldTime, fieldMsg, fieldMessage, fieldNamespace, fieldName, fieldID, fieldChannel:
			continue
		}
		rec.Data[k] = v
	}

	return rec
}

// ResolveChannel picks the record channel: the call channel, then the raw
// record's own "channel" field, then the default channel.
func ResolveChannel(channel string, raw map[string]any) string {
	if ch := strings.TrimSpace(channel); ch != "" {
		return ch
	}
	if s, ok := raw[fieldChannel].(string); ok {
		if ch := strings.TrimSpace(s); ch != "" {
			return ch
		}
	}
	return models.DefaultChannel
}

func parseLevel(v any) int {
	switch l := v.(type) {
	case float64:
		return clampInt(l)
	case int:
		return l
	case int64:
		return int(l)
	case string:
		s := strings.TrimSpace(l)
		if n, ok := levelNames[strings.ToLower(s)]; ok {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return clampInt(f)
		}
	}
	return models.LevelInfo
}

func (n *Normalizer) parseTime(v any) int64 {
	switch t := v.(type) {
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			return int64(t)
		}
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		s := strings.TrimSpace(t)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UnixMilli()
		}
	}
	return n.now().UnixMilli()
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	return ""
}

func clampInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return models.LevelInfo
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}
