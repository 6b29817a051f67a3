package store

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store/migrations"
)

func TestMigrations_EmbedBothDialects(t *testing.T) {
	for _, dir := range []string{"postgres", "sqlite3"} {
		entries, err := fs.ReadDir(migrations.FS, dir)
		require.NoError(t, err, dir)
		assert.NotEmpty(t, entries, dir)
	}
}

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "campus.db"))
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite driver needs cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	assert.True(t, db.Healthy(ctx))
	docs := db.Documents()

	_, err := docs.Insert(ctx, "students", Document{"id": "S1", "name": "Ada Obi", "tagId": "NFC_1"})
	require.NoError(t, err)
	_, err = docs.Insert(ctx, "students", Document{"id": "S2", "name": "Bo Lee", "tagId": "NFC_2"})
	require.NoError(t, err)

	_, err = docs.Insert(ctx, "students", Document{"id": "S1", "name": "dup"})
	assert.ErrorIs(t, err, ErrConflict)

	found, err := docs.Find(ctx, "students", Query{Filters: []Filter{In("tagId", []string{"NFC_2"})}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Bo Lee", found[0].String("name"))

	require.NoError(t, docs.Update(ctx, "students", "S1", Document{"name": "Ada O."}))
	got, err := docs.Get(ctx, "students", "S1")
	require.NoError(t, err)
	assert.Equal(t, "Ada O.", got.String("name"))
	assert.Equal(t, "NFC_1", got.String("tagId"))

	_, err = docs.Get(ctx, "students", "S9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, docs.Update(ctx, "students", "S9", Document{"name": "x"}), ErrNotFound)
}

func TestSQLite_MigrationsIdempotent(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, migrate(context.Background(), db.Client, db.Dialect.Name))
}

func TestSQLite_NumericFieldsMatchLikeMemory(t *testing.T) {
	ctx := context.Background()
	backends := map[string]Documents{"memory": NewMemory(), "sqlite": openSQLite(t).Documents()}

	for name, docs := range backends {
		t.Run(name, func(t *testing.T) {
			_, err := docs.Insert(ctx, "medicalRecords", Document{"id": "M1", "studentId": float64(1001), "visit": float64(2.5)})
			require.NoError(t, err)

			got, err := docs.Find(ctx, "medicalRecords", Where(Eq("studentId", "1001")))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "M1", got[0].ID())

			got, err = docs.Find(ctx, "medicalRecords", Where(In("studentId", []string{"1001"}), Eq("visit", "2.5")))
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}
