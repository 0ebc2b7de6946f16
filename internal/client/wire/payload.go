package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/common"
)

// Encode turns a queued local payload of table into its remote row.
func Encode(t models.Table, payload json.RawMessage) (Row, error) {
	switch t {
	case models.TableClients:
		return encode(payload, ClientToWire)
	case models.TableLoans:
		return encode(payload, LoanToWire)
	case models.TablePayments:
		return encode(payload, PaymentToWire)
	case models.TableCollectionLogs:
		return encode(payload, CollectionLogToWire)
	case models.TableExpenses:
		return encode(payload, ExpenseToWire)
	case models.TableUsers:
		return encode(payload, UserToWire)
	case models.TableSettings:
		return encode(payload, SettingsToWire)
	}
	return nil, fmt.Errorf("%w: %s", common.ErrUnknownTable, t)
}

func encode[T any](payload json.RawMessage, to func(T) Row) (Row, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRecord, err)
	}
	return to(v), nil
}

// DecodeRows maps every row with from, stopping at the first bad row.
func DecodeRows[T any](rows []Row, from func(Row) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, r := range rows {
		v, err := from(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
