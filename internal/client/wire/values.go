package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/shopspring/decimal"
)

// Row is one remote row. Values are limited to string, float64, bool and
// nil so rows survive JSON and structpb transport unchanged.
type Row = map[string]any

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func getString(r Row, key string) (string, error) {
	switch v := r[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %s is %T, want string", common.ErrInvalidRecord, key, v)
	}
}

func getTime(r Row, key string) (time.Time, error) {
	t, err := getOptTime(r, key)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

func getOptTime(r Row, key string) (*time.Time, error) {
	s, err := getString(r, key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrInvalidRecord, key, err)
	}
	t = t.UTC()
	return &t, nil
}

func getDecimal(r Row, key string) (decimal.Decimal, error) {
	switch v := r[key].(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", common.ErrInvalidRecord, key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", common.ErrInvalidRecord, key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is %T, want number", common.ErrInvalidRecord, key, v)
	}
}

func getInt(r Row, key string) (int, error) {
	switch v := r[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s is not an integer", common.ErrInvalidRecord, key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", common.ErrInvalidRecord, key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, want integer", common.ErrInvalidRecord, key, v)
	}
}

func metaToWire(m models.Meta) Row {
	return Row{
		"id":         m.ID,
		"branch_id":  m.BranchID,
		"created_at": formatTime(m.CreatedAt),
		"updated_at": formatTime(m.UpdatedAt),
		"deleted_at": formatOptTime(m.DeletedAt),
	}
}

// reader decodes columns of one row and keeps the first error, so the
// per-entity mappers stay flat.
type reader struct {
	row Row
	err error
}

func (rd *reader) str(key string) string {
	v, err := getString(rd.row, key)
	rd.keep(err)
	return v
}

func (rd *reader) ts(key string) time.Time {
	v, err := getTime(rd.row, key)
	rd.keep(err)
	return v
}

func (rd *reader) optTS(key string) *time.Time {
	v, err := getOptTime(rd.row, key)
	rd.keep(err)
	return v
}

func (rd *reader) dec(key string) decimal.Decimal {
	v, err := getDecimal(rd.row, key)
	rd.keep(err)
	return v
}

func (rd *reader) num(key string) int {
	v, err := getInt(rd.row, key)
	rd.keep(err)
	return v
}

func (rd *reader) keep(err error) {
	if rd.err == nil && err != nil {
		rd.err = err
	}
}

func (rd *reader) meta() models.Meta {
	m := models.Meta{
		ID:        rd.str("id"),
		BranchID:  rd.str("branch_id"),
		CreatedAt: rd.ts("created_at"),
		UpdatedAt: rd.ts("updated_at"),
		DeletedAt: rd.optTS("deleted_at"),
	}
	if rd.err == nil && m.ID == "" {
		rd.err = fmt.Errorf("%w: missing id", common.ErrInvalidRecord)
	}
	return m
}
