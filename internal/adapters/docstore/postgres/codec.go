package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/jobboard/internal/domain/document"
)

// tsKey marks an encoded timestamp: {"$ts": "2025-05-01T09:00:00.000000000Z"}.
const tsKey = "$ts"

// tsLayout is fixed width so encoded instants sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func encode(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(toJSON(data))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

func toJSON(v any) any {
	switch t := v.(type) {
	case document.Timestamp:
		return map[string]any{tsKey: t.Time().Format(tsLayout)}
	case *document.Timestamp:
		if t == nil {
			return nil
		}
		return map[string]any{tsKey: t.Time().Format(tsLayout)}
	case time.Time:
		return map[string]any{tsKey: t.UTC().Format(tsLayout)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = toJSON(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = toJSON(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = toJSON(inner)
		}
		return out
	default:
		return v
	}
}

func decode(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	out, _ := fromJSON(m).(map[string]any)
	return out, nil
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[tsKey].(string); ok && len(t) == 1 {
			if ts, err := time.Parse(tsLayout, s); err == nil {
				return document.FromTime(ts)
			}
		}
		for k, inner := range t {
			t[k] = fromJSON(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = fromJSON(inner)
		}
		return t
	default:
		return v
	}
}

// filterJSON renders equality filters as a jsonb containment document.
func filterJSON(filters []document.Filter) ([]byte, error) {
	m := make(map[string]any, len(filters))
	for _, f := range filters {
		m[f.Field] = f.Value
	}
	return encode(m)
}
