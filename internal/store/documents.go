package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get and Update for a missing id.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Insert when the id already exists in the collection.
	ErrConflict = errors.New("document already exists")
)

// Document is one schemaless record. Values follow JSON decoding rules:
// strings, float64, bool, []any and map[string]any.
type Document map[string]any

// ID returns the document id.
func (d Document) ID() string { return d.String("id") }

// String returns field as a string, or "" when absent.
func (d Document) String(field string) string {
	switch v := d[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// First returns the first non-empty string among fields.
func (d Document) First(fields ...string) string {
	for _, f := range fields {
		if v := d.String(f); v != "" {
			return v
		}
	}
	return ""
}

// Strings returns field as a string slice.
func (d Document) Strings(field string) []string {
	switch v := d[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
	OpIn  Op = "in"
)

// Filter restricts a Find to documents whose Field compares to Value.
// For OpIn, Value is a []string.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

// In is shorthand for a membership filter.
func In(field string, values []string) Filter { return Filter{Field: field, Op: OpIn, Value: values} }

// Query describes a Find call. An empty OrderBy keeps store order.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where starts a query from filters.
func Where(filters ...Filter) Query { return Query{Filters: filters} }

// Documents is a queryable collection store.
type Documents interface {
	Find(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Insert(ctx context.Context, collection string, doc Document) (Document, error)
	Update(ctx context.Context, collection, id string, fields Document) error
}

// filterValue renders a filter operand the way it is stored in JSON.
func filterValue(v any) string {
	return Document{"v": v}.String("v")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses field as a timestamp. RFC3339 strings, plain dates,
// time.Time values and epoch milliseconds are accepted.
func (d Document) Time(field string) (time.Time, bool) {
	switch v := d[field].(type) {
	case time.Time:
		return v.UTC(), !v.IsZero()
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case map[string]any:
		// Exported document-store timestamps: {"seconds": n, "nanoseconds": n}.
		if sec, ok := v["seconds"].(float64); ok {
			nsec, _ := v["nanoseconds"].(float64)
			return time.Unix(int64(sec), int64(nsec)).UTC(), true
		}
	}
	return time.Time{}, false
}
