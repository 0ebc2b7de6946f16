// Package services implements the server-side row store operations on top
// of the repositories: validation, branch scoping, parent checks,
// tombstones and change notification.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/dbx"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
	"github.com/dmitrijs2005/loancollect/internal/server/models"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Publisher receives committed changes.
type Publisher interface {
	Publish(c models.Change)
}

type RowService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	now         func() time.Time
	written     *prometheus.CounterVec
}

func NewRowService(db *sql.DB, rm repomanager.RepositoryManager, pub Publisher, reg prometheus.Registerer) *RowService {
	return &RowService{
		db:          db,
		repomanager: rm,
		publisher:   pub,
		now:         time.Now,
		written: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "loancollect",
			Subsystem: "server",
			Name:      "rows_written_total",
			Help:      "Rows written by table and operation.",
		}, []string{"table", "op"}),
	}
}

// Upsert writes rows into table in one transaction. scope is the branch the
// caller is limited to; empty means any.
func (s *RowService) Upsert(ctx context.Context, scope, table string, in []models.Row) error {
	if !models.Writable(table) {
		return fmt.Errorf("%w: %q is not writable", common.ErrUnknownTable, table)
	}
	for _, r := range in {
		meta, err := models.ParseMeta(r)
		if err != nil {
			return err
		}
		if scope != "" && meta.BranchID != scope {
			return fmt.Errorf("%w: %s", common.ErrBranchScope, meta.ID)
		}
	}

	var changes []models.Change
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rows(tx)
		for _, r := range in {
			if err := checkParent(ctx, repo, table, r); err != nil {
				return err
			}
			inserted, err := repo.Upsert(ctx, table, r)
			if err != nil {
				return err
			}
			ev := EventUpdate
			if inserted {
				ev = EventInsert
			}
			changes = append(changes, models.Change{Table: table, Event: ev, Record: r})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.written.WithLabelValues(table, "upsert").Add(float64(len(in)))
	s.publish(changes)
	return nil
}

// Delete removes ids from table and records a tombstone for each, whether
// or not the row existed.
func (s *RowService) Delete(ctx context.Context, scope, table, branchID string, ids []string) error {
	if !models.Writable(table) {
		return fmt.Errorf("%w: %q is not writable", common.ErrUnknownTable, table)
	}
	if scope != "" && branchID != scope {
		return fmt.Errorf("%w: %s", common.ErrBranchScope, branchID)
	}

	now := s.now()
	var changes []models.Change
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rows(tx)
		for _, id := range ids {
			if id == "" {
				return fmt.Errorf("%w: empty id", common.ErrInvalidID)
			}
			old, found, err := repo.Delete(ctx, table, id, branchID)
			if err != nil {
				return err
			}
			if found {
				changes = append(changes, models.Change{Table: table, Event: EventDelete, Old: old})
			}

			ts := models.Tombstone(rowstore.TombstoneID(table, id), table, id, branchID, now)
			if _, err := repo.Upsert(ctx, models.TableTombstones, ts); err != nil {
				return err
			}
			changes = append(changes, models.Change{Table: models.TableTombstones, Event: EventInsert, Record: ts})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.written.WithLabelValues(table, "delete").Add(float64(len(ids)))
	s.publish(changes)
	return nil
}

func (s *RowService) Select(ctx context.Context, scope string, q rows.Query) ([]models.Row, error) {
	if err := models.CheckTable(q.Table); err != nil {
		return nil, err
	}
	switch {
	case scope == "":
	case q.BranchID == "":
		q.BranchID = scope
	case q.BranchID != scope:
		return nil, fmt.Errorf("%w: %s", common.ErrBranchScope, q.BranchID)
	}
	return s.repomanager.Rows(s.db).Select(ctx, q)
}

// Ping checks the database connection.
func (s *RowService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *RowService) publish(changes []models.Change) {
	if s.publisher == nil {
		return
	}
	for _, c := range changes {
		s.publisher.Publish(c)
	}
}

func checkParent(ctx context.Context, repo rows.Repository, table string, r models.Row) error {
	p, ok := models.Parents[table]
	if !ok {
		return nil
	}
	pid, _ := r[p.Column].(string)
	if pid == "" {
		return fmt.Errorf("%w: %s without %s", common.ErrMissingParent, table, p.Column)
	}
	found, err := repo.Exists(ctx, p.Table, pid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s %s", common.ErrMissingParent, p.Table, pid)
	}
	return nil
}
