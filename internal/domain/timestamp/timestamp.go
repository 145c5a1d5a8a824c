// Package timestamp renders store-native timestamps as ISO-8601 strings before
// a record leaves the service.
package timestamp

import (
	"time"

	"github.com/okian/jobboard/internal/domain/document"
)

// Layout is the canonical instant form: UTC with millisecond precision.
const Layout = "2006-01-02T15:04:05.000Z"

// ISO formats t in the canonical form.
func ISO(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Normalize returns a copy of record with every recognized timestamp value,
// at any depth, replaced by its ISO string. Strings, malformed values and
// anything unrecognized pass through unchanged. The input is never modified.
func Normalize(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = normalizeValue(v)
	}
	return out
}

// NormalizeDocument normalizes doc.Data and returns the record to send.
func NormalizeDocument(doc document.Document) map[string]any {
	return Normalize(doc.Data)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case document.Timestamp:
		return ISO(t.Time())
	case *document.Timestamp:
		if t == nil {
			return nil
		}
		return ISO(t.Time())
	case time.Time:
		return ISO(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return ISO(*t)
	case map[string]any:
		return Normalize(t)
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = Normalize(m)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
