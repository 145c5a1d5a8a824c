package document

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Filter is an equality constraint on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Order sorts results by a field; ties always break on document id.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents from one collection. Limit <= 0 means no limit.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    *Order
	Limit      int
}

// From starts a query on collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where adds an equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Ordered sets the ordering field.
func (q Query) Ordered(field string, desc bool) Query {
	q.OrderBy = &Order{Field: field, Desc: desc}
	return q
}

// Limited caps the result size.
func (q Query) Limited(n int) Query {
	q.Limit = n
	return q
}

// Matches reports whether doc satisfies every filter.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		v, ok := doc.Data[f.Field]
		if !ok || !ValuesEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// Less reports whether a sorts before b under the query ordering.
func (q Query) Less(a, b Document) bool {
	if q.OrderBy != nil {
		c := CompareValues(a.Data[q.OrderBy.Field], b.Data[q.OrderBy.Field])
		if q.OrderBy.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return a.ID < b.ID
}

// Apply filters, orders and limits docs. The input slice is not modified.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return q.Less(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// ValuesEqual compares two field values, treating all numeric kinds alike.
func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two field values: nil < bool < number < timestamp < string.
// Values of the same class compare naturally.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return sign(ra - rb)
	}
	switch ra {
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankTime:
		ta, tb := asTimestamp(a), asTimestamp(b)
		switch {
		case ta.Before(tb):
			return -1
		case tb.Before(ta):
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case Timestamp, *Timestamp, time.Time, *time.Time:
		return rankTime
	case string:
		return rankString
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

func asTimestamp(v any) Timestamp {
	switch t := v.(type) {
	case Timestamp:
		return t
	case *Timestamp:
		if t != nil {
			return *t
		}
	case time.Time:
		return FromTime(t)
	case *time.Time:
		if t != nil {
			return FromTime(*t)
		}
	}
	return Timestamp{}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}
