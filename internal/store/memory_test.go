package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_InsertGetUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	doc, err := m.Insert(ctx, "examAttendance", Document{"id": "r1", "studentId": "s1", "checkInTime": at})
	require.NoError(t, err)
	assert.Equal(t, "r1", doc.ID())
	assert.Equal(t, "2026-03-01T09:00:00Z", doc.String("checkInTime"))

	require.NoError(t, m.Update(ctx, "examAttendance", "r1", Document{"status": "completed", "id": "ignored"}))

	got, err := m.Get(ctx, "examAttendance", "r1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.String("status"))
	assert.Equal(t, "r1", got.ID())
	assert.Equal(t, "s1", got.String("studentId"))
}

func TestMemory_InsertConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Insert(ctx, "c", Document{"id": "x"})
	require.NoError(t, err)
	_, err = m.Insert(ctx, "c", Document{"id": "x"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.Insert(ctx, "other", Document{"id": "x"})
	assert.NoError(t, err)
}

func TestMemory_InsertAssignsID(t *testing.T) {
	doc, err := NewMemory().Insert(context.Background(), "c", Document{"name": "n"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID())
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "c", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Update(context.Background(), "c", "missing", Document{}), ErrNotFound)
}

func TestMemory_FindFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, d := range []Document{
		{"id": "a", "studentId": "s1", "timestamp": "2026-01-02T00:00:00Z"},
		{"id": "b", "studentId": "s2", "timestamp": "2026-01-03T00:00:00Z"},
		{"id": "c", "studentId": "s1", "timestamp": "2026-01-05T00:00:00Z"},
		{"id": "d", "studentId": "s1"},
	} {
		_, err := m.Insert(ctx, "accessLogs", d)
		require.NoError(t, err)
	}

	got, err := m.Find(ctx, "accessLogs", Query{
		Filters: []Filter{Eq("studentId", "s1")},
		OrderBy: "timestamp",
		Desc:    true,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "d"}, ids(got))

	got, err = m.Find(ctx, "accessLogs", Query{Filters: []Filter{
		{Field: "timestamp", Op: OpGte, Value: "2026-01-03T00:00:00Z"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(got))

	got, err = m.Find(ctx, "accessLogs", Where(In("id", []string{"d", "b"})))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids(got))

	got, err = m.Find(ctx, "accessLogs", Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestMemory_FindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Insert(ctx, "c", Document{"id": "a", "v": "1"})
	require.NoError(t, err)

	got, err := m.Find(ctx, "c", Query{})
	require.NoError(t, err)
	got[0]["v"] = "changed"

	again, err := m.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", again.String("v"))
}

func TestDocument_Accessors(t *testing.T) {
	d := Document{"n": float64(3), "b": true, "tags": []any{"x", 1, "y"}, "empty": ""}
	assert.Equal(t, "3", d.String("n"))
	assert.Equal(t, "true", d.String("b"))
	assert.Equal(t, "", d.String("missing"))
	assert.Equal(t, []string{"x", "y"}, d.Strings("tags"))
	assert.Equal(t, "3", d.First("empty", "missing", "n"))
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func TestDocument_Time(t *testing.T) {
	want := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value any
		want  time.Time
		ok    bool
	}{
		{"rfc3339", "2026-05-04T09:30:00Z", want, true},
		{"offset", "2026-05-04T10:30:00+01:00", want, true},
		{"naive", "2026-05-04 09:30:00", want, true},
		{"date", "2026-05-04", time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), true},
		{"millis", float64(want.UnixMilli()), want, true},
		{"millis string", strconv.FormatInt(want.UnixMilli(), 10), want, true},
		{"time", want, want, true},
		{"exported timestamp", map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)}, want, true},
		{"blank", "  ", time.Time{}, false},
		{"garbage", "next tuesday", time.Time{}, false},
		{"zero millis", float64(0), time.Time{}, false},
		{"missing", nil, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Document{"at": tt.value}.Time("at")
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
