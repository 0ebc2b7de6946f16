package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openKV(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func keys(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n))
	return n
}

func put(ctx context.Context, tx DBTX, key string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO kv(key, value) VALUES (?, '[]')`, key)
	return err
}

func TestWithTx_CommitsBothWrites(t *testing.T) {
	db := openKV(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := put(ctx, tx, "snapshot"); err != nil {
			return err
		}
		return put(ctx, tx, "queue")
	})
	require.NoError(t, err)
	require.Equal(t, 2, keys(t, db))
}

func TestWithTx_ErrorDiscardsEarlierWrites(t *testing.T) {
	db := openKV(t)
	boom := errors.New("encode queue")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, put(ctx, tx, "snapshot"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, keys(t, db))
}

func TestWithTx_PanicRollsBackAndPropagates(t *testing.T) {
	db := openKV(t)

	require.PanicsWithValue(t, "kaput", func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, put(ctx, tx, "snapshot"))
			panic("kaput")
		})
	})
	require.Zero(t, keys(t, db))
}

func TestWithTx_BeginError(t *testing.T) {
	db := openKV(t)
	require.NoError(t, db.Close())

	called := false
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		called = true
		return nil
	})
	require.ErrorContains(t, err, "begin tx")
	require.False(t, called)
}
