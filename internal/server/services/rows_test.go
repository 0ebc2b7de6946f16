package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/dbx"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
	"github.com/dmitrijs2005/loancollect/internal/server/models"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t1 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeRowsRepo struct {
	tables    map[string]map[string]models.Row
	upsertErr error
	queries   []rows.Query
}

func newFakeRowsRepo() *fakeRowsRepo {
	return &fakeRowsRepo{tables: map[string]map[string]models.Row{}}
}

func (f *fakeRowsRepo) Upsert(ctx context.Context, table string, r models.Row) (bool, error) {
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	if f.tables[table] == nil {
		f.tables[table] = map[string]models.Row{}
	}
	id := r["id"].(string)
	_, existed := f.tables[table][id]
	f.tables[table][id] = r
	return !existed, nil
}

func (f *fakeRowsRepo) Delete(ctx context.Context, table, id, branchID string) (models.Row, bool, error) {
	old, ok := f.tables[table][id]
	if ok {
		delete(f.tables[table], id)
	}
	return old, ok, nil
}

func (f *fakeRowsRepo) Exists(ctx context.Context, table, id string) (bool, error) {
	_, ok := f.tables[table][id]
	return ok, nil
}

func (f *fakeRowsRepo) Select(ctx context.Context, q rows.Query) ([]models.Row, error) {
	f.queries = append(f.queries, q)
	var out []models.Row
	for _, r := range f.tables[q.Table] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	return out, nil
}

type fakeRM struct{ repo *fakeRowsRepo }

func (m fakeRM) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeRM) Rows(dbx.DBTX) rows.Repository                { return m.repo }

type fakePublisher struct {
	mu      sync.Mutex
	changes []models.Change
}

func (p *fakePublisher) Publish(c models.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

type env struct {
	svc  *RowService
	mock sqlmock.Sqlmock
	repo *fakeRowsRepo
	pub  *fakePublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{mock: mock, repo: newFakeRowsRepo(), pub: &fakePublisher{}}
	e.svc = NewRowService(db, fakeRM{repo: e.repo}, e.pub, prometheus.NewRegistry())
	e.svc.now = func() time.Time { return t1 }
	return e
}

func row(id, branch string, kv ...string) models.Row {
	r := models.Row{"id": id, "branch_id": branch, "updated_at": t1.Format(time.RFC3339Nano)}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = kv[i+1]
	}
	return r
}

func TestUpsert_InsertsThenUpdates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()

	require.NoError(t, e.svc.Upsert(ctx, "b1", "clients", []models.Row{row("c1", "b1")}))
	require.NoError(t, e.svc.Upsert(ctx, "", "clients", []models.Row{row("c1", "b1", "name", "Ana")}))

	require.Len(t, e.pub.changes, 2)
	assert.Equal(t, EventInsert, e.pub.changes[0].Event)
	assert.Equal(t, EventUpdate, e.pub.changes[1].Event)
	assert.Equal(t, "Ana", e.repo.tables["clients"]["c1"]["name"])
	assert.Equal(t, 2.0, testutil.ToFloat64(e.svc.written.WithLabelValues("clients", "upsert")))
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestUpsert_ChecksParent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
	err := e.svc.Upsert(ctx, "", "loans", []models.Row{row("l1", "b1", "client_id", "c1")})
	assert.ErrorIs(t, err, common.ErrMissingParent)
	assert.Empty(t, e.pub.changes)

	e.repo.tables["clients"] = map[string]models.Row{"c1": row("c1", "b1")}
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	require.NoError(t, e.svc.Upsert(ctx, "", "loans", []models.Row{row("l1", "b1", "client_id", "c1")}))
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestUpsert_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.svc.Upsert(ctx, "", models.TableTombstones, []models.Row{row("t1", "b1")}), common.ErrUnknownTable)
	assert.ErrorIs(t, e.svc.Upsert(ctx, "", "accounts", nil), common.ErrUnknownTable)
	assert.ErrorIs(t, e.svc.Upsert(ctx, "b1", "clients", []models.Row{row("c1", "b2")}), common.ErrBranchScope)
	assert.ErrorIs(t, e.svc.Upsert(ctx, "", "clients", []models.Row{{"id": "c1"}}), common.ErrInvalidRecord)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestUpsert_RollsBackOnRepoError(t *testing.T) {
	e := newEnv(t)
	e.repo.upsertErr = errors.New("db is down")

	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
	err := e.svc.Upsert(context.Background(), "", "clients", []models.Row{row("c1", "b1")})
	assert.ErrorContains(t, err, "db is down")
	assert.Empty(t, e.pub.changes)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestDelete_WritesTombstones(t *testing.T) {
	e := newEnv(t)
	e.repo.tables["loans"] = map[string]models.Row{"l1": row("l1", "b1")}

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	require.NoError(t, e.svc.Delete(context.Background(), "b1", "loans", "b1", []string{"l1", "l9"}))

	assert.Empty(t, e.repo.tables["loans"])
	ts := e.repo.tables[models.TableTombstones]
	require.Len(t, ts, 2)
	got := ts[rowstore.TombstoneID("loans", "l9")]
	assert.Equal(t, "l9", got["record_id"])
	assert.Equal(t, "loans", got["table_name"])
	assert.Equal(t, t1.Format(time.RFC3339Nano), got["updated_at"])

	require.Len(t, e.pub.changes, 3)
	assert.Equal(t, EventDelete, e.pub.changes[0].Event)
	assert.Equal(t, "b1", e.pub.changes[0].BranchID())
	assert.Equal(t, models.TableTombstones, e.pub.changes[1].Table)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestDelete_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.svc.Delete(ctx, "b1", "loans", "b2", []string{"l1"}), common.ErrBranchScope)
	assert.ErrorIs(t, e.svc.Delete(ctx, "", models.TableTombstones, "b1", []string{"t1"}), common.ErrUnknownTable)

	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
	assert.ErrorIs(t, e.svc.Delete(ctx, "", "loans", "b1", []string{""}), common.ErrInvalidID)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestSelect_Scope(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Select(ctx, "b1", rows.Query{Table: "clients"})
	require.NoError(t, err)
	assert.Equal(t, "b1", e.repo.queries[0].BranchID)

	_, err = e.svc.Select(ctx, "b1", rows.Query{Table: "clients", BranchID: "b2"})
	assert.ErrorIs(t, err, common.ErrBranchScope)

	_, err = e.svc.Select(ctx, "", rows.Query{Table: "nope"})
	assert.ErrorIs(t, err, common.ErrUnknownTable)
}
