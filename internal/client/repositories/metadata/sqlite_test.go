package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  updated_at TEXT NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet_InsertThenGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "snapshot", []byte(`{"clients":[]}`)))

	v, err := r.Get(ctx, "snapshot")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"clients":[]}`), v)
}

func TestGet_NotExists_ReturnsNilNil(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSet_UpsertOverwritesValueAndTimestamp(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	r.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Set(ctx, "queue", []byte("old")))
	r.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Set(ctx, "queue", []byte("new")))

	v, err := r.Get(ctx, "queue")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)

	var ts string
	require.NoError(t, db.QueryRow(`SELECT updated_at FROM metadata WHERE key = 'queue'`).Scan(&ts))
	assert.Equal(t, "2024-01-02T00:00:00Z", ts)
}

func TestSet_NilStoredAsEmpty(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", nil))
	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)

	missing, err := r.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing key stays distinguishable from an empty value")

	m, err := r.GetMany(ctx, "k", "absent")
	require.NoError(t, err)
	require.Contains(t, m, "k")
	assert.NotNil(t, m["k"])
	assert.Empty(t, m["k"])
}

func TestGetMany_ReturnsOnlyPresentKeys(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.SetMany(ctx, map[string][]byte{
		"snapshot":  []byte("s"),
		"queue":     []byte("q"),
		"last_sync": []byte("t"),
	}))

	m, err := r.GetMany(ctx, "snapshot", "queue", "pending_creates")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"snapshot": []byte("s"), "queue": []byte("q")}, m)

	empty, err := r.GetMany(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestList_ReturnsAllPairs(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte{0xAA}))
	require.NoError(t, r.Set(ctx, "b", []byte{0xBB, 0xCC}))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Equal(t, []byte{0xAA}, m["a"])
	assert.Equal(t, []byte{0xBB, 0xCC}, m["b"])
}

func TestDelete_RemovesKeys_AndIsIdempotent(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "x", []byte{0x01}))
	require.NoError(t, r.Set(ctx, "y", []byte{0x02}))
	require.NoError(t, r.Delete(ctx, "x", "y"))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, r.Delete(ctx, "x"))
}

func TestClear_RemovesAllKeys(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte{1}))
	require.NoError(t, r.Set(ctx, "b", []byte{2}))
	require.NoError(t, r.Clear(ctx))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestSetMany_InTransactionRollsBack(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteRepository(tx).SetMany(ctx, map[string][]byte{"a": {1}, "b": {2}}))
	require.NoError(t, tx.Rollback())

	m, err := NewSQLiteRepository(db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	require.ErrorContains(t, err, "failed to get metadata[k]")

	err = r.Set(ctx, "k", []byte("v"))
	require.ErrorContains(t, err, "failed to set metadata[k]")

	err = r.Delete(ctx, "k")
	require.ErrorContains(t, err, "failed to delete metadata[k]")

	err = r.Clear(ctx)
	require.ErrorContains(t, err, "failed to clear metadata")

	_, err = r.List(ctx)
	require.ErrorContains(t, err, "failed to list metadata")

	_, err = r.GetMany(ctx, "a")
	require.ErrorContains(t, err, "failed to get metadata")
}
