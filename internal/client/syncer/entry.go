package syncer

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/queue"
)

// The Push methods write the record to the local snapshot, queue it and
// start a pass in the background. They return false only when the local
// write failed; the record reaching the server is reported through Status.
// A missing id, branch or timestamp is filled in.

func (s *Syncer) PushClient(ctx context.Context, c models.Client) bool {
	s.stamp(&c.Meta)
	return s.push(ctx, models.TableClients, c)
}

func (s *Syncer) PushLoan(ctx context.Context, l models.Loan) bool {
	s.stamp(&l.Meta)
	return s.push(ctx, models.TableLoans, l)
}

func (s *Syncer) PushPayment(ctx context.Context, p models.Payment) bool {
	s.stamp(&p.Meta)
	return s.push(ctx, models.TablePayments, p)
}

func (s *Syncer) PushCollectionLog(ctx context.Context, l models.CollectionLog) bool {
	s.stamp(&l.Meta)
	return s.push(ctx, models.TableCollectionLogs, l)
}

func (s *Syncer) PushExpense(ctx context.Context, e models.Expense) bool {
	s.stamp(&e.Meta)
	return s.push(ctx, models.TableExpenses, e)
}

func (s *Syncer) PushUser(ctx context.Context, u models.User) bool {
	s.stamp(&u.Meta)
	return s.push(ctx, models.TableUsers, u)
}

// PushSettings writes the settings of the configured branch.
func (s *Syncer) PushSettings(ctx context.Context, b models.BranchSettings) bool {
	if b.ID == "" {
		b.ID = s.cfg.BranchID
	}
	s.stamp(&b.Meta)
	return s.push(ctx, models.TableSettings, b)
}

// The Delete methods soft-delete the record locally and queue the remote
// delete, which makes the server write a tombstone.

func (s *Syncer) DeleteClient(ctx context.Context, id string) bool {
	return s.remove(ctx, models.TableClients, id)
}

func (s *Syncer) DeleteLoan(ctx context.Context, id string) bool {
	return s.remove(ctx, models.TableLoans, id)
}

func (s *Syncer) DeletePayment(ctx context.Context, id string) bool {
	return s.remove(ctx, models.TablePayments, id)
}

func (s *Syncer) DeleteCollectionLog(ctx context.Context, id string) bool {
	return s.remove(ctx, models.TableCollectionLogs, id)
}

func (s *Syncer) DeleteExpense(ctx context.Context, id string) bool {
	return s.remove(ctx, models.TableExpenses, id)
}

func (s *Syncer) stamp(m *models.Meta) {
	now := s.clock.Now().UTC()
	if m.ID == "" {
		m.ID = models.NewID()
	}
	if m.BranchID == "" {
		m.BranchID = s.cfg.BranchID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

func (s *Syncer) push(ctx context.Context, table models.Table, rec models.Record) bool {
	kind, _ := models.CreateKind(table)
	err := s.queue.Enqueue(ctx, kind, rec)
	switch {
	case errors.Is(err, queue.ErrDuplicateSuppressed):
		return true
	case err != nil:
		s.log.Error(ctx, "local write failed", "table", table, "id", rec.GetID(), "error", err)
		s.recoverIfCorrupted(ctx, err)
		return false
	}
	s.afterLocalWrite(ctx)
	return true
}

func (s *Syncer) remove(ctx context.Context, table models.Table, id string) bool {
	if err := s.queue.EnqueueDelete(ctx, table, id, s.cfg.BranchID); err != nil {
		s.log.Error(ctx, "local delete failed", "table", table, "id", id, "error", err)
		s.recoverIfCorrupted(ctx, err)
		return false
	}
	s.afterLocalWrite(ctx)
	return true
}

// afterLocalWrite publishes the optimistic snapshot and kicks a pass.
func (s *Syncer) afterLocalWrite(ctx context.Context) {
	st, err := s.store.Load(ctx)
	if err == nil {
		s.mu.Lock()
		s.queueLen = len(st.Queue)
		s.mu.Unlock()
		s.metrics.QueueLength.Set(float64(len(st.Queue)))
		s.onData(st.Snapshot, false)
	}
	s.request(request{process: true})
}
