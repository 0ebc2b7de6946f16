// Package rows provides the PostgreSQL-backed store of synced rows. Every
// table shares one layout: indexed id, branch_id, updated_at and deleted_at
// columns plus the full row as JSONB.
package rows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/dbx"
	"github.com/dmitrijs2005/loancollect/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, table string, row models.Row) (bool, error) {
	if err := models.CheckTable(table); err != nil {
		return false, err
	}
	meta, err := models.ParseMeta(row)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("encode row: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, branch_id, updated_at, deleted_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			branch_id = EXCLUDED.branch_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			data = EXCLUDED.data
		RETURNING (xmax = 0) AS inserted;
	`, table)

	var inserted bool
	err = r.db.QueryRowContext(ctx, query, meta.ID, meta.BranchID, meta.UpdatedAt, meta.DeletedAt, data).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, table, id, branchID string) (models.Row, bool, error) {
	if err := models.CheckTable(table); err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND ($2 = '' OR branch_id = $2) RETURNING data;`, table)

	var data []byte
	err := r.db.QueryRowContext(ctx, query, id, branchID).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	var old models.Row
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, false, fmt.Errorf("decode row %s: %w", id, err)
	}
	return old, true, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := models.CheckTable(table); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1);`, table)

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Select(ctx context.Context, q Query) ([]models.Row, error) {
	if err := models.CheckTable(q.Table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT data FROM %s
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2::timestamptz IS NULL OR updated_at > $2)
		ORDER BY updated_at, id
		OFFSET $3 LIMIT $4;
	`, q.Table)

	var since, limit any
	if q.Since != nil {
		since = q.Since.UTC()
	}
	if q.Limit > 0 {
		limit = q.Limit
	}

	rows, err := r.db.QueryContext(ctx, query, q.BranchID, since, q.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", q.Table, err)
	}
	defer rows.Close()

	result := []models.Row{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var row models.Row
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", q.Table, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
