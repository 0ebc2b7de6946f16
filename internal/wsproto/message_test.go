package wsproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"change","table":"loans","event":"delete","old_record":{"id":"l1"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChange, m.Type)
	assert.Equal(t, EventDelete, m.Event)
	assert.Equal(t, "l1", m.OldRecord["id"])
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"hello"}`))
	assert.ErrorContains(t, err, "unknown message type")

	_, err = Decode([]byte(`{`))
	assert.ErrorContains(t, err, "decode message")
}

func TestSubscribe_OmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(Subscribe("b1", []string{"clients"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","branch_id":"b1","tables":["clients"]}`, string(b))
}
