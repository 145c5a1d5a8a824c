// Package document defines the store-independent shapes shared by the change
// feed, the bid ledger and every document store adapter: schemaless documents,
// store-native timestamps, queries, change batches and transactions.
package document

import (
	"context"
	"encoding/json"
	"time"
)

// Document is one stored record. Data is schemaless; timestamp fields hold
// Timestamp values until they are normalized on the way out.
type Document struct {
	ID      string
	Data    map[string]any
	Version int64
}

// Clone returns a deep copy so callers can mutate the result freely.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Data: CloneData(d.Data), Version: d.Version}
}

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

// Timestamp is the store-native instant representation.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// FromTime converts t to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the instant in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// Before reports whether ts is earlier than other.
func (ts Timestamp) Before(other Timestamp) bool {
	if ts.Seconds != other.Seconds {
		return ts.Seconds < other.Seconds
	}
	return ts.Nanos < other.Nanos
}

// MarshalJSON renders the value the way the store's own SDK would if it ever
// escaped normalization.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Seconds int64 `json:"_seconds"`
		Nanos   int32 `json:"_nanoseconds"`
	}{ts.Seconds, ts.Nanos})
}

type serverTimestamp struct{}

// ServerTimestamp is a write sentinel replaced by the commit time of the
// transaction that writes it.
var ServerTimestamp any = serverTimestamp{} //nolint:gochecknoglobals // write sentinel

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ResolveServerTimestamps returns a copy of data with every ServerTimestamp
// sentinel replaced by commit.
func ResolveServerTimestamps(data map[string]any, commit Timestamp) map[string]any {
	out, _ := resolve(data, commit).(map[string]any)
	return out
}

func resolve(v any, commit Timestamp) any {
	switch t := v.(type) {
	case serverTimestamp:
		return commit
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = resolve(inner, commit)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = resolve(inner, commit)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = resolve(inner, commit)
		}
		return out
	default:
		return v
	}
}

// CloneData deep-copies maps and slices; scalar values are shared.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = CloneData(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// ChangeType classifies a change-feed entry.
type ChangeType string

// Change types delivered by subscriptions.
const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one entry of a change-feed batch.
type Change struct {
	Type ChangeType
	Doc  Document
}

// Batch is the ordered set of changes the store detected together.
type Batch []Change

// Tx is the view of the store inside an atomic transaction. Reads observe a
// consistent state; writes become visible only when the transaction commits.
type Tx interface {
	Get(ref Ref) (Document, bool, error)
	Set(ref Ref, data map[string]any) error
	Update(ref Ref, fields map[string]any) error
	Delete(ref Ref) error
	// NewRef reserves a fresh document id in collection.
	NewRef(collection string) Ref
}

// TxFunc is the body of a transaction. Returning an error aborts it.
type TxFunc func(ctx context.Context, tx Tx) error

// Subscription is a live query yielding change batches until closed. Both
// channels are closed once the subscription stops.
type Subscription interface {
	Changes() <-chan Batch
	Errors() <-chan error
	// Close stops the subscription. It is safe to call more than once.
	Close()
}
