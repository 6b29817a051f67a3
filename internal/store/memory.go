package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Documents implementation for dev and tests.
// Documents are round-tripped through JSON so values look the same as
// they do when read back from the SQL stores.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	order       map[string][]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Document),
		order:       make(map[string][]string),
	}
}

// Find returns matching documents in insertion order unless q.OrderBy is set.
func (m *Memory) Find(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, id := range m.order[collection] {
		doc := m.collections[collection][id]
		if matches(doc, q.Filters) {
			out = append(out, clone(doc))
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get returns the document with id.
func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

// Insert adds doc, assigning an id when it has none.
func (m *Memory) Insert(_ context.Context, collection string, doc Document) (Document, error) {
	stored, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}
	id := stored.ID()

	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		m.collections[collection] = coll
	}
	if _, exists := coll[id]; exists {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	coll[id] = stored
	m.order[collection] = append(m.order[collection], id)
	return clone(stored), nil
}

// Update merges fields into an existing document.
func (m *Memory) Update(_ context.Context, collection, id string, fields Document) error {
	patch, err := normalize(fields)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	return nil
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || v == nil {
			return false
		}
		switch f.Op {
		case OpEq:
			if doc.String(f.Field) != filterValue(f.Value) {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]string)
			found := false
			for _, want := range values {
				if doc.String(f.Field) == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case OpGte:
			if compare(v, f.Value) < 0 {
				return false
			}
		case OpLte:
			if compare(v, f.Value) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders two stored values. Numbers compare numerically, anything
// else by its string form; missing values sort first.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aNum := number(a)
	bf, bNum := number(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := filterValue(a), filterValue(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return 0, false
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(n), 64)
		return f, err == nil
	}
}

func normalize(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func clone(doc Document) Document {
	out, err := normalize(doc)
	if err != nil {
		return Document{}
	}
	return out
}
