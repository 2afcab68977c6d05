// Package payload decodes producer bodies into raw log maps.
//
// Accepted shapes, for HTTP bodies and broker messages alike:
//
//	{"level":30,"msg":"hello"}                     single record
//	[{"msg":"a"},{"msg":"b"}]                      array of records
//	{"channel":"app-1","logs":[{"msg":"a"}, ...]}  envelope
//
// Values are converted to plain Go types (map[string]any, []any, float64,
// string, bool, nil), the same types encoding/json produces.
package payload

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

var (
	// ErrEmptyBody is returned for a body with no content.
	ErrEmptyBody = errors.New("empty body")
	// ErrTooLarge is returned when a body exceeds the configured limit.
	ErrTooLarge = errors.New("body too large")
	// ErrUnsupportedShape is returned when the JSON is neither an object nor an array.
	ErrUnsupportedShape = errors.New("expected a JSON object or array")
)

// Batch is one decoded body.
type Batch struct {
	// Channel named inside an envelope body, if any.
	Channel string
	Logs    []map[string]any
}

// Decoder parses bodies with a pooled fastjson parser. The zero value is ready to use.
type Decoder struct {
	parsers fastjson.ParserPool
}

// Decode parses a JSON body.
func (d *Decoder) Decode(body []byte) (Batch, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Batch{}, ErrEmptyBody
	}

	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return Batch{}, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v.Type() {
	case fastjson.TypeArray:
		return Batch{Logs: objects(v.GetArray())}, nil
	case fastjson.TypeObject:
		if logs := v.Get("logs"); logs != nil && logs.Type() == fastjson.TypeArray {
			return Batch{
				Channel: string(v.GetStringBytes("channel")),
				Logs:    objects(logs.GetArray()),
			}, nil
		}
		return Batch{Logs: []map[string]any{toMap(v)}}, nil
	default:
		return Batch{}, ErrUnsupportedShape
	}
}

// ReadBody reads up to limit bytes from r, transparently inflating gzip when
// encoding says so. A limit of zero or less means no limit.
func ReadBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	if strings.EqualFold(strings.TrimSpace(encoding), "gzip") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// objects keeps the object elements of an array; anything else is skipped.
func objects(items []*fastjson.Value) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if it.Type() == fastjson.TypeObject {
			out = append(out, toMap(it))
		}
	}
	return out
}

func toMap(v *fastjson.Value) map[string]any {
	o, _ := v.Object()
	m := make(map[string]any, o.Len())
	o.Visit(func(key []byte, val *fastjson.Value) {
		m[string(key)] = toAny(val)
	})
	return m
}

func toAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		return toMap(v)
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = toAny(it)
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
