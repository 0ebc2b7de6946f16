package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/shopspring/decimal"
)

var errNotQueued = errors.New("change was not saved")

func (a *App) statusLine() string {
	st := a.syncer.Status()
	net := "offline"
	if st.IsOnline {
		net = "online"
	}
	line := fmt.Sprintf("%s, %d pending", net, st.QueueLength)
	if st.IsSyncing {
		line += ", syncing"
	}
	return line
}

func (a *App) Status(ctx context.Context) error {
	st := a.syncer.Status()
	last := "never"
	if st.LastSyncAt != nil {
		last = st.LastSyncAt.Local().Format(time.DateTime)
	}
	printlnFn("Online:   ", st.IsOnline)
	printlnFn("Queue:    ", st.QueueLength)
	printlnFn("Last sync:", last)
	printlnFn("Realtime: ", a.syncer.RealtimeState())
	if st.Message != "" {
		printlnFn("Message:  ", st.Message)
	}
	if st.SyncError != "" {
		printlnFn("Error:    ", st.SyncError)
	}
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	state, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	snap := state.Snapshot

	table := models.TableClients
	if len(args) > 0 {
		t, ok := tableAlias[strings.ToLower(args[0])]
		if !ok {
			return usage("list [clients|loans|payments|logs|expenses]")
		}
		table = t
	}

	switch table {
	case models.TableClients:
		for _, c := range models.Active(snap.Clients) {
			printlnFn(c.ID, c.Name, c.Phone)
		}
	case models.TableLoans:
		for _, l := range models.Active(snap.Loans) {
			printlnFn(l.ID, "client", l.ClientID, "balance", l.Balance.StringFixed(2), l.Status)
		}
	case models.TablePayments:
		for _, p := range models.Active(snap.Payments) {
			printlnFn(p.ID, "loan", p.LoanID, p.Amount.StringFixed(2), p.PaidAt.Format(time.DateOnly))
		}
	case models.TableCollectionLogs:
		for _, l := range models.Active(snap.CollectionLogs) {
			printlnFn(l.ID, "loan", l.LoanID, l.Type, l.VisitedAt.Format(time.DateTime))
		}
	case models.TableExpenses:
		for _, e := range models.Active(snap.Expenses) {
			printlnFn(e.ID, e.Category, e.Amount.StringFixed(2))
		}
	}
	return nil
}

func (a *App) AddClient(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usage("addclient <name> [phone]")
	}
	c := models.Client{Meta: models.Meta{ID: models.NewID()}, Name: args[0], CollectorID: a.cfg.CollectorID}
	if len(args) > 1 {
		c.Phone = args[1]
	}
	if !a.syncer.PushClient(ctx, c) {
		return errNotQueued
	}
	printlnFn("Client added:", c.ID)
	return nil
}

func (a *App) AddLoan(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("addloan <client-id> <principal> <installments> [rate]")
	}
	principal, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	n, err := parseInstallments(args[2])
	if err != nil {
		return err
	}
	rate := decimal.Zero
	if len(args) > 3 {
		if rate, err = decimal.NewFromString(args[3]); err != nil {
			return fmt.Errorf("invalid rate %q", args[3])
		}
	}

	state, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if !state.Snapshot.Has(models.TableClients, args[0]) {
		return fmt.Errorf("client %s not found", args[0])
	}

	total := principal.Add(principal.Mul(rate).Div(decimal.NewFromInt(100))).Round(2)
	l := models.Loan{
		Meta:         models.Meta{ID: models.NewID()},
		ClientID:     args[0],
		CollectorID:  a.cfg.CollectorID,
		Principal:    principal,
		InterestRate: rate,
		TotalAmount:  total,
		Balance:      total,
		Installments: n,
		Frequency:    models.FrequencyDaily,
		Status:       models.LoanStatusActive,
		StartDate:    time.Now().UTC(),
	}
	if !a.syncer.PushLoan(ctx, l) {
		return errNotQueued
	}
	printlnFn("Loan added:", l.ID, "total", total.StringFixed(2))
	return nil
}

func (a *App) Pay(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("pay <loan-id> <amount>")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	loan, err := a.findLoan(ctx, args[0])
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	p := models.Payment{
		Meta:        models.Meta{ID: models.NewID()},
		LoanID:      loan.ID,
		ClientID:    loan.ClientID,
		CollectorID: a.cfg.CollectorID,
		Amount:      amount,
		Method:      "cash",
		PaidAt:      now,
	}
	if !a.syncer.PushPayment(ctx, p) {
		return errNotQueued
	}

	loan.Balance = decimal.Max(loan.Balance.Sub(amount), decimal.Zero)
	if loan.Balance.IsZero() {
		loan.Status = models.LoanStatusPaid
	}
	if !a.syncer.PushLoan(ctx, loan) {
		return errNotQueued
	}
	printlnFn("Payment recorded:", p.ID, "balance", loan.Balance.StringFixed(2))
	return nil
}

func (a *App) Visit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("visit <loan-id> <type> [amount]")
	}
	typ, err := parseLogType(args[1])
	if err != nil {
		return err
	}
	amount := decimal.Zero
	if len(args) > 2 {
		if amount, err = parseAmount(args[2]); err != nil {
			return err
		}
	}
	loan, err := a.findLoan(ctx, args[0])
	if err != nil {
		return err
	}

	l := models.CollectionLog{
		Meta:        models.Meta{ID: models.NewID()},
		LoanID:      loan.ID,
		ClientID:    loan.ClientID,
		CollectorID: a.cfg.CollectorID,
		Type:        typ,
		Amount:      amount,
		VisitedAt:   time.Now().UTC(),
	}
	if !a.syncer.PushCollectionLog(ctx, l) {
		return errNotQueued
	}
	printlnFn("Visit logged:", l.ID)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("delete <client|loan|payment|log|expense> <id>")
	}
	table, ok := tableAlias[strings.ToLower(args[0])]
	if !ok {
		return usage("delete <client|loan|payment|log|expense> <id>")
	}
	id := args[1]

	var done bool
	switch table {
	case models.TableClients:
		done = a.syncer.DeleteClient(ctx, id)
	case models.TableLoans:
		done = a.syncer.DeleteLoan(ctx, id)
	case models.TablePayments:
		done = a.syncer.DeletePayment(ctx, id)
	case models.TableCollectionLogs:
		done = a.syncer.DeleteCollectionLog(ctx, id)
	case models.TableExpenses:
		done = a.syncer.DeleteExpense(ctx, id)
	}
	if !done {
		return errNotQueued
	}
	printlnFn("Deleted:", id)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	a.syncer.ForceSync()
	printlnFn("Sync requested")
	return nil
}

func (a *App) FullSync(ctx context.Context) error {
	if err := a.syncer.ForceFullSync(ctx); err != nil {
		return err
	}
	printlnFn("Full sync requested")
	return nil
}

func (a *App) ClearQueue(ctx context.Context) error {
	n, err := a.syncer.ClearQueue(ctx)
	if err != nil {
		return err
	}
	printlnFn("Cleared", n, "queued changes")
	return nil
}

func (a *App) Repair(ctx context.Context) error {
	if err := a.syncer.RepairLocalCache(ctx); err != nil {
		return err
	}
	printlnFn("Local cache reset, reloading from the server")
	return nil
}

func (a *App) findLoan(ctx context.Context, id string) (models.Loan, error) {
	state, err := a.store.Load(ctx)
	if err != nil {
		return models.Loan{}, err
	}
	rec, table, ok := state.Snapshot.Find(id)
	if !ok || table != models.TableLoans || rec.GetDeletedAt() != nil {
		return models.Loan{}, fmt.Errorf("loan %s not found", id)
	}
	return rec.(models.Loan), nil
}
