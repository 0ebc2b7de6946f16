package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotDeletable is returned for tables that have no delete kind.
var ErrNotDeletable = errors.New("table has no delete operation")

// Kind is the operation a Mutation performs. Create kinds are upserts and
// therefore carry edits too.
type Kind string

const (
	KindCreateClient   Kind = "create_client"
	KindCreateLoan     Kind = "create_loan"
	KindCreatePayment  Kind = "create_payment"
	KindCreateLog      Kind = "create_log"
	KindCreateExpense  Kind = "create_expense"
	KindCreateUser     Kind = "create_user"
	KindUpdateSettings Kind = "update_settings"
	KindDeleteLog      Kind = "delete_log"
	KindDeletePayment  Kind = "delete_payment"
	KindDeleteLoan     Kind = "delete_loan"
	KindDeleteClient   Kind = "delete_client"
	KindDeleteExpense  Kind = "delete_expense"
)

// KindOrder is the order kind groups are submitted in. Parents are created
// before children; children are deleted before parents.
var KindOrder = []Kind{
	KindCreateClient,
	KindCreateLoan,
	KindCreatePayment,
	KindCreateLog,
	KindCreateExpense,
	KindCreateUser,
	KindUpdateSettings,
	KindDeleteLog,
	KindDeletePayment,
	KindDeleteLoan,
	KindDeleteClient,
	KindDeleteExpense,
}

var kindTables = map[Kind]Table{
	KindCreateClient:   TableClients,
	KindCreateLoan:     TableLoans,
	KindCreatePayment:  TablePayments,
	KindCreateLog:      TableCollectionLogs,
	KindCreateExpense:  TableExpenses,
	KindCreateUser:     TableUsers,
	KindUpdateSettings: TableSettings,
	KindDeleteLog:      TableCollectionLogs,
	KindDeletePayment:  TablePayments,
	KindDeleteLoan:     TableLoans,
	KindDeleteClient:   TableClients,
	KindDeleteExpense:  TableExpenses,
}

// Table returns the collection the kind writes to.
func (k Kind) Table() Table { return kindTables[k] }

func (k Kind) Valid() bool {
	_, ok := kindTables[k]
	return ok
}

func (k Kind) IsDelete() bool {
	switch k {
	case KindDeleteLog, KindDeletePayment, KindDeleteLoan, KindDeleteClient, KindDeleteExpense:
		return true
	}
	return false
}

// ParentKind is the create kind whose success a mutation of kind k waits for.
func (k Kind) ParentKind() (Kind, bool) {
	switch k {
	case KindCreateLoan:
		return KindCreateClient, true
	case KindCreatePayment, KindCreateLog:
		return KindCreateLoan, true
	}
	return "", false
}

// CreateKind returns the create kind for table t.
func CreateKind(t Table) (Kind, bool) {
	for _, k := range KindOrder {
		if !k.IsDelete() && k.Table() == t {
			return k, true
		}
	}
	return "", false
}

// DeleteKind returns the delete kind for table t.
func DeleteKind(t Table) (Kind, bool) {
	for _, k := range KindOrder {
		if k.IsDelete() && k.Table() == t {
			return k, true
		}
	}
	return "", false
}

// Mutation is a unit of pending work. Payload is the local JSON form of the
// record at enqueue time; deletes carry no payload.
type Mutation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	TargetID   string          `json:"targetId"`
	ParentID   string          `json:"parentId,omitempty"`
	BranchID   string          `json:"branchId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// SyncErrorRecord is one diagnostics entry.
type SyncErrorRecord struct {
	Table Table     `json:"table"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}
