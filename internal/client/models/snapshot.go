package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
)

// Snapshot is the whole local application state. It is replaced as a unit.
type Snapshot struct {
	Settings       []BranchSettings `json:"settings"`
	Users          []User           `json:"users"`
	Clients        []Client         `json:"clients"`
	Loans          []Loan           `json:"loans"`
	Payments       []Payment        `json:"payments"`
	CollectionLogs []CollectionLog  `json:"collectionLogs"`
	Expenses       []Expense        `json:"expenses"`
}

// Clone returns a copy whose slices can be modified independently.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Settings:       append([]BranchSettings(nil), s.Settings...),
		Users:          append([]User(nil), s.Users...),
		Clients:        append([]Client(nil), s.Clients...),
		Loans:          append([]Loan(nil), s.Loans...),
		Payments:       append([]Payment(nil), s.Payments...),
		CollectionLogs: append([]CollectionLog(nil), s.CollectionLogs...),
		Expenses:       append([]Expense(nil), s.Expenses...),
	}
}

// Len is the total number of records, deleted ones included.
func (s Snapshot) Len() int {
	return len(s.Settings) + len(s.Users) + len(s.Clients) + len(s.Loans) +
		len(s.Payments) + len(s.CollectionLogs) + len(s.Expenses)
}

// Has reports whether a record with id exists in table.
func (s Snapshot) Has(t Table, id string) bool {
	switch t {
	case TableSettings:
		return indexOf(s.Settings, id) >= 0
	case TableUsers:
		return indexOf(s.Users, id) >= 0
	case TableClients:
		return indexOf(s.Clients, id) >= 0
	case TableLoans:
		return indexOf(s.Loans, id) >= 0
	case TablePayments:
		return indexOf(s.Payments, id) >= 0
	case TableCollectionLogs:
		return indexOf(s.CollectionLogs, id) >= 0
	case TableExpenses:
		return indexOf(s.Expenses, id) >= 0
	}
	return false
}

// Upsert replaces the record with the same id or appends rec.
func (s *Snapshot) Upsert(rec Record) error {
	switch r := rec.(type) {
	case BranchSettings:
		s.Settings = upsert(s.Settings, r)
	case User:
		s.Users = upsert(s.Users, r)
	case Client:
		s.Clients = upsert(s.Clients, r)
	case Loan:
		s.Loans = upsert(s.Loans, r)
	case Payment:
		s.Payments = upsert(s.Payments, r)
	case CollectionLog:
		s.CollectionLogs = upsert(s.CollectionLogs, r)
	case Expense:
		s.Expenses = upsert(s.Expenses, r)
	default:
		return fmt.Errorf("%w: %T", common.ErrInvalidRecord, rec)
	}
	return nil
}

// SoftDelete marks the record deleted. It reports whether the record exists.
func (s *Snapshot) SoftDelete(t Table, id string, at time.Time) bool {
	switch t {
	case TableClients:
		return softDelete(s.Clients, id, at)
	case TableLoans:
		return softDelete(s.Loans, id, at)
	case TablePayments:
		return softDelete(s.Payments, id, at)
	case TableCollectionLogs:
		return softDelete(s.CollectionLogs, id, at)
	case TableExpenses:
		return softDelete(s.Expenses, id, at)
	case TableUsers:
		return softDelete(s.Users, id, at)
	}
	return false
}

// Find looks id up in every table.
func (s Snapshot) Find(id string) (Record, Table, bool) {
	if i := indexOf(s.Clients, id); i >= 0 {
		return s.Clients[i], TableClients, true
	}
	if i := indexOf(s.Loans, id); i >= 0 {
		return s.Loans[i], TableLoans, true
	}
	if i := indexOf(s.Payments, id); i >= 0 {
		return s.Payments[i], TablePayments, true
	}
	if i := indexOf(s.CollectionLogs, id); i >= 0 {
		return s.CollectionLogs[i], TableCollectionLogs, true
	}
	if i := indexOf(s.Expenses, id); i >= 0 {
		return s.Expenses[i], TableExpenses, true
	}
	if i := indexOf(s.Users, id); i >= 0 {
		return s.Users[i], TableUsers, true
	}
	if i := indexOf(s.Settings, id); i >= 0 {
		return s.Settings[i], TableSettings, true
	}
	return nil, "", false
}

// IDs returns the ids held in table.
func (s Snapshot) IDs(t Table) IDSet {
	switch t {
	case TableSettings:
		return IDsOf(s.Settings)
	case TableUsers:
		return IDsOf(s.Users)
	case TableClients:
		return IDsOf(s.Clients)
	case TableLoans:
		return IDsOf(s.Loans)
	case TablePayments:
		return IDsOf(s.Payments)
	case TableCollectionLogs:
		return IDsOf(s.CollectionLogs)
	case TableExpenses:
		return IDsOf(s.Expenses)
	}
	return IDSet{}
}

// Deleted returns the soft-deleted records of table t.
func (s Snapshot) Deleted(t Table) []Record {
	switch t {
	case TableClients:
		return deletedOf(s.Clients)
	case TableLoans:
		return deletedOf(s.Loans)
	case TablePayments:
		return deletedOf(s.Payments)
	case TableCollectionLogs:
		return deletedOf(s.CollectionLogs)
	case TableExpenses:
		return deletedOf(s.Expenses)
	}
	return nil
}

func deletedOf[T Record](items []T) []Record {
	var out []Record
	for _, it := range items {
		if it.GetDeletedAt() != nil {
			out = append(out, it)
		}
	}
	return out
}

func indexOf[T Record](items []T, id string) int {
	for i, it := range items {
		if it.GetID() == id {
			return i
		}
	}
	return -1
}

func upsert[T Record](items []T, rec T) []T {
	if i := indexOf(items, rec.GetID()); i >= 0 {
		items[i] = rec
		return items
	}
	return append(items, rec)
}

type deletable[T any] interface {
	*T
	Record
	SoftDelete(time.Time)
}

func softDelete[T any, P deletable[T]](items []T, id string, at time.Time) bool {
	for i := range items {
		p := P(&items[i])
		if p.GetID() == id {
			p.SoftDelete(at)
			return true
		}
	}
	return false
}
