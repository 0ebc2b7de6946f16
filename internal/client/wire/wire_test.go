package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
)

func meta(id string) models.Meta {
	return models.Meta{ID: id, BranchID: "b1", CreatedAt: t1, UpdatedAt: t2}
}

// viaJSON simulates transport: numbers come back as float64.
func viaJSON(t *testing.T, r Row) Row {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	var out Row
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestLoan_RoundTrip(t *testing.T) {
	in := models.Loan{
		Meta:         meta("l1"),
		ClientID:     "c1",
		Principal:    decimal.RequireFromString("1500.00"),
		InterestRate: decimal.RequireFromString("0.2"),
		TotalAmount:  decimal.RequireFromString("1800"),
		Balance:      decimal.RequireFromString("1800"),
		Installments: 24,
		Frequency:    models.FrequencyWeekly,
		Status:       models.LoanStatusActive,
		StartDate:    t1,
	}

	row := viaJSON(t, LoanToWire(in))
	assert.Equal(t, "c1", row["client_id"])
	assert.Equal(t, "1500", row["principal"])
	assert.Nil(t, row["deleted_at"])

	out, err := LoanFromWire(row)
	require.NoError(t, err)
	if diff := cmp.Diff(in.Principal.String(), out.Principal.String()); diff != "" {
		t.Errorf("principal mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, in.Balance.Equal(out.Balance))
	assert.Equal(t, 24, out.Installments)
	assert.Equal(t, in.Meta, out.Meta)
	assert.Equal(t, in.StartDate, out.StartDate)
}

func TestPayment_DeletedAtSurvives(t *testing.T) {
	del := t2.Add(time.Hour)
	in := models.Payment{Meta: meta("p1"), LoanID: "l1", ClientID: "c1", Amount: decimal.NewFromInt(50), PaidAt: t1}
	in.DeletedAt = &del

	out, err := PaymentFromWire(viaJSON(t, PaymentToWire(in)))
	require.NoError(t, err)
	require.NotNil(t, out.DeletedAt)
	assert.Equal(t, del, *out.DeletedAt)
}

func TestFromWire_AcceptsNumericAmounts(t *testing.T) {
	row := Row{"id": "x1", "amount": 12.5, "updated_at": t1.Format(time.RFC3339)}
	out, err := ExpenseFromWire(row)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(out.Amount))
}

func TestFromWire_Errors(t *testing.T) {
	cases := []struct {
		name string
		row  Row
	}{
		{"missing id", Row{"name": "a"}},
		{"bad time", Row{"id": "c1", "updated_at": "yesterday"}},
		{"wrong type", Row{"id": "c1", "name": 5.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ClientFromWire(tc.row)
			assert.ErrorIs(t, err, common.ErrInvalidRecord)
		})
	}

	_, err := SettingsFromWire(Row{"id": "b1", "grace_period_days": 1.5})
	assert.ErrorIs(t, err, common.ErrInvalidRecord)
}

func TestAllEntities_RoundTrip(t *testing.T) {
	c := models.Client{Meta: meta("c1"), Name: "Ana", Phone: "555"}
	gotC, err := ClientFromWire(viaJSON(t, ClientToWire(c)))
	require.NoError(t, err)
	assert.Equal(t, c, gotC)

	u := models.User{Meta: meta("u1"), Name: "Eva", Role: "collector"}
	gotU, err := UserFromWire(viaJSON(t, UserToWire(u)))
	require.NoError(t, err)
	assert.Equal(t, u, gotU)

	lg := models.CollectionLog{Meta: meta("g1"), LoanID: "l1", Type: models.LogTypeVisit, Amount: decimal.Zero, VisitedAt: t1}
	gotL, err := CollectionLogFromWire(viaJSON(t, CollectionLogToWire(lg)))
	require.NoError(t, err)
	assert.Equal(t, lg.Type, gotL.Type)
	assert.True(t, gotL.Amount.IsZero())

	s := models.BranchSettings{Meta: meta("b1"), Currency: "USD", DefaultInterestRate: decimal.RequireFromString("0.1"), GracePeriodDays: 3}
	gotS, err := SettingsFromWire(viaJSON(t, SettingsToWire(s)))
	require.NoError(t, err)
	assert.Equal(t, 3, gotS.GracePeriodDays)

	ts := models.Tombstone{ID: "t1", Table: models.TableClients, RecordID: "c1", BranchID: "b1", DeletedAt: t2}
	gotT, err := TombstoneFromWire(viaJSON(t, TombstoneToWire(ts)))
	require.NoError(t, err)
	assert.Equal(t, ts, gotT)
}

func TestEncode(t *testing.T) {
	payload, err := json.Marshal(models.Client{Meta: meta("c1"), Name: "Ana"})
	require.NoError(t, err)

	row, err := Encode(models.TableClients, payload)
	require.NoError(t, err)
	assert.Equal(t, "Ana", row["name"])
	assert.Equal(t, "b1", row["branch_id"])

	_, err = Encode(models.TableTombstones, payload)
	assert.ErrorIs(t, err, common.ErrUnknownTable)

	_, err = Encode(models.TableClients, json.RawMessage(`{"id":`))
	assert.ErrorIs(t, err, common.ErrInvalidRecord)
}

func TestDecodeRows(t *testing.T) {
	rows := []Row{{"id": "u1"}, {"id": "u2"}}
	users, err := DecodeRows(rows, UserFromWire)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, err = DecodeRows([]Row{{"id": "u1"}, {}}, UserFromWire)
	assert.ErrorIs(t, err, common.ErrInvalidRecord)
}
