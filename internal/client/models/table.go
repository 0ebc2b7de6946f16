package models

import (
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/common"
)

// Table names a remote collection.
type Table string

const (
	TableSettings       Table = "branch_settings"
	TableUsers          Table = "users"
	TableClients        Table = "clients"
	TableLoans          Table = "loans"
	TablePayments       Table = "payments"
	TableCollectionLogs Table = "collection_logs"
	TableExpenses       Table = "expenses"
	TableTombstones     Table = "deletion_tombstones"
)

// PullOrder is the fixed order tables are fetched in.
var PullOrder = []Table{
	TableSettings,
	TableUsers,
	TableClients,
	TableLoans,
	TablePayments,
	TableCollectionLogs,
	TableExpenses,
	TableTombstones,
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	for _, known := range PullOrder {
		if t == known {
			return true
		}
	}
	return false
}

// Critical tables are the ones whose deletions force a full pull.
func (t Table) Critical() bool {
	switch t {
	case TableClients, TableLoans, TablePayments, TableCollectionLogs:
		return true
	}
	return false
}

// ParseTable converts s to a Table.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownTable, s)
	}
	return t, nil
}
