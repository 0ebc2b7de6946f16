package wire

import (
	"github.com/dmitrijs2005/loancollect/internal/client/models"
)

func ClientToWire(c models.Client) Row {
	r := metaToWire(c.Meta)
	r["name"] = c.Name
	r["phone"] = c.Phone
	r["address"] = c.Address
	r["document_number"] = c.DocumentNumber
	r["collector_id"] = c.CollectorID
	r["notes"] = c.Notes
	return r
}

func ClientFromWire(r Row) (models.Client, error) {
	rd := &reader{row: r}
	c := models.Client{
		Meta:           rd.meta(),
		Name:           rd.str("name"),
		Phone:          rd.str("phone"),
		Address:        rd.str("address"),
		DocumentNumber: rd.str("document_number"),
		CollectorID:    rd.str("collector_id"),
		Notes:          rd.str("notes"),
	}
	return c, rd.err
}

func LoanToWire(l models.Loan) Row {
	r := metaToWire(l.Meta)
	r["client_id"] = l.ClientID
	r["collector_id"] = l.CollectorID
	r["principal"] = l.Principal.String()
	r["interest_rate"] = l.InterestRate.String()
	r["total_amount"] = l.TotalAmount.String()
	r["balance"] = l.Balance.String()
	r["installments"] = float64(l.Installments)
	r["frequency"] = string(l.Frequency)
	r["status"] = string(l.Status)
	r["start_date"] = formatTime(l.StartDate)
	return r
}

func LoanFromWire(r Row) (models.Loan, error) {
	rd := &reader{row: r}
	l := models.Loan{
		Meta:         rd.meta(),
		ClientID:     rd.str("client_id"),
		CollectorID:  rd.str("collector_id"),
		Principal:    rd.dec("principal"),
		InterestRate: rd.dec("interest_rate"),
		TotalAmount:  rd.dec("total_amount"),
		Balance:      rd.dec("balance"),
		Installments: rd.num("installments"),
		Frequency:    models.Frequency(rd.str("frequency")),
		Status:       models.LoanStatus(rd.str("status")),
		StartDate:    rd.ts("start_date"),
	}
	return l, rd.err
}

func PaymentToWire(p models.Payment) Row {
	r := metaToWire(p.Meta)
	r["loan_id"] = p.LoanID
	r["client_id"] = p.ClientID
	r["collector_id"] = p.CollectorID
	r["amount"] = p.Amount.String()
	r["method"] = p.Method
	r["paid_at"] = formatTime(p.PaidAt)
	return r
}

func PaymentFromWire(r Row) (models.Payment, error) {
	rd := &reader{row: r}
	p := models.Payment{
		Meta:        rd.meta(),
		LoanID:      rd.str("loan_id"),
		ClientID:    rd.str("client_id"),
		CollectorID: rd.str("collector_id"),
		Amount:      rd.dec("amount"),
		Method:      rd.str("method"),
		PaidAt:      rd.ts("paid_at"),
	}
	return p, rd.err
}

func CollectionLogToWire(l models.CollectionLog) Row {
	r := metaToWire(l.Meta)
	r["loan_id"] = l.LoanID
	r["client_id"] = l.ClientID
	r["collector_id"] = l.CollectorID
	r["type"] = string(l.Type)
	r["amount"] = l.Amount.String()
	r["notes"] = l.Notes
	r["visited_at"] = formatTime(l.VisitedAt)
	return r
}

func CollectionLogFromWire(r Row) (models.CollectionLog, error) {
	rd := &reader{row: r}
	l := models.CollectionLog{
		Meta:        rd.meta(),
		LoanID:      rd.str("loan_id"),
		ClientID:    rd.str("client_id"),
		CollectorID: rd.str("collector_id"),
		Type:        models.LogType(rd.str("type")),
		Amount:      rd.dec("amount"),
		Notes:       rd.str("notes"),
		VisitedAt:   rd.ts("visited_at"),
	}
	return l, rd.err
}

func ExpenseToWire(e models.Expense) Row {
	r := metaToWire(e.Meta)
	r["collector_id"] = e.CollectorID
	r["category"] = e.Category
	r["amount"] = e.Amount.String()
	r["description"] = e.Description
	r["spent_at"] = formatTime(e.SpentAt)
	return r
}

func ExpenseFromWire(r Row) (models.Expense, error) {
	rd := &reader{row: r}
	e := models.Expense{
		Meta:        rd.meta(),
		CollectorID: rd.str("collector_id"),
		Category:    rd.str("category"),
		Amount:      rd.dec("amount"),
		Description: rd.str("description"),
		SpentAt:     rd.ts("spent_at"),
	}
	return e, rd.err
}

func UserToWire(u models.User) Row {
	r := metaToWire(u.Meta)
	r["name"] = u.Name
	r["email"] = u.Email
	r["role"] = u.Role
	return r
}

func UserFromWire(r Row) (models.User, error) {
	rd := &reader{row: r}
	u := models.User{
		Meta:  rd.meta(),
		Name:  rd.str("name"),
		Email: rd.str("email"),
		Role:  rd.str("role"),
	}
	return u, rd.err
}

func SettingsToWire(s models.BranchSettings) Row {
	r := metaToWire(s.Meta)
	r["name"] = s.Name
	r["currency"] = s.Currency
	r["default_interest_rate"] = s.DefaultInterestRate.String()
	r["grace_period_days"] = float64(s.GracePeriodDays)
	return r
}

func SettingsFromWire(r Row) (models.BranchSettings, error) {
	rd := &reader{row: r}
	s := models.BranchSettings{
		Meta:                rd.meta(),
		Name:                rd.str("name"),
		Currency:            rd.str("currency"),
		DefaultInterestRate: rd.dec("default_interest_rate"),
		GracePeriodDays:     rd.num("grace_period_days"),
	}
	return s, rd.err
}

func TombstoneToWire(t models.Tombstone) Row {
	return Row{
		"id":         t.ID,
		"table_name": string(t.Table),
		"record_id":  t.RecordID,
		"branch_id":  t.BranchID,
		"deleted_at": formatTime(t.DeletedAt),
		"updated_at": formatTime(t.DeletedAt),
	}
}

func TombstoneFromWire(r Row) (models.Tombstone, error) {
	rd := &reader{row: r}
	t := models.Tombstone{
		ID:        rd.str("id"),
		Table:     models.Table(rd.str("table_name")),
		RecordID:  rd.str("record_id"),
		BranchID:  rd.str("branch_id"),
		DeletedAt: rd.ts("deleted_at"),
	}
	return t, rd.err
}
