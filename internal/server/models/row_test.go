package models

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	m, err := ParseMeta(Row{
		"id":         "c1",
		"branch_id":  "b1",
		"updated_at": "2024-05-01T10:00:00.5+02:00",
		"deleted_at": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", m.ID)
	assert.Equal(t, "b1", m.BranchID)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 5e8, time.UTC), m.UpdatedAt)
	assert.Nil(t, m.DeletedAt)

	m, err = ParseMeta(Row{"id": "c1", "updated_at": "2024-05-01T10:00:00Z", "deleted_at": "2024-05-02T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, m.DeletedAt)
}

func TestParseMeta_Rejects(t *testing.T) {
	for name, r := range map[string]Row{
		"no id":       {"updated_at": "2024-05-01T10:00:00Z"},
		"no updated":  {"id": "c1"},
		"bad deleted": {"id": "c1", "updated_at": "2024-05-01T10:00:00Z", "deleted_at": "yesterday"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMeta(r)
			assert.ErrorIs(t, err, common.ErrInvalidRecord)
		})
	}
}

func TestTables(t *testing.T) {
	assert.NoError(t, CheckTable("loans"))
	assert.ErrorIs(t, CheckTable("loans; DROP TABLE users"), common.ErrUnknownTable)
	assert.True(t, Writable("clients"))
	assert.False(t, Writable(TableTombstones))
	assert.False(t, Writable("accounts"))
}

func TestTombstone(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Tombstone("t1", "loans", "l1", "b1", at)
	m, err := ParseMeta(r)
	require.NoError(t, err)
	assert.Equal(t, at, m.UpdatedAt)
	assert.Equal(t, "loans", r["table_name"])
}
