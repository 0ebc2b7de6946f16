package models

import (
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/common"
)

// TableTombstones receives a row for every deletion.
const TableTombstones = "deletion_tombstones"

// Tables lists every synced table. Names are used verbatim in SQL, so only
// names from this list may reach a query.
var Tables = []string{
	"branch_settings",
	"users",
	"clients",
	"loans",
	"payments",
	"collection_logs",
	"expenses",
	TableTombstones,
}

// Parent is a reference a child row must satisfy.
type Parent struct {
	Column string
	Table  string
}

// Parents lists the foreign keys checked on upsert.
var Parents = map[string]Parent{
	"loans":           {Column: "client_id", Table: "clients"},
	"payments":        {Column: "loan_id", Table: "loans"},
	"collection_logs": {Column: "loan_id", Table: "loans"},
}

// CheckTable returns common.ErrUnknownTable for names outside Tables.
func CheckTable(name string) error {
	for _, t := range Tables {
		if t == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", common.ErrUnknownTable, name)
}

// Writable reports whether clients may upsert or delete rows of name.
func Writable(name string) bool {
	return name != TableTombstones && CheckTable(name) == nil
}
