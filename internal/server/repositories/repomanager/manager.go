// Package repomanager vends repository implementations bound to a DBTX and
// owns schema migrations, so services can run repositories inside a
// transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/loancollect/internal/dbx"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Rows(db dbx.DBTX) rows.Repository
}
