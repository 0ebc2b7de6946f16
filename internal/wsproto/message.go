// Package wsproto defines the JSON messages exchanged on the realtime
// websocket channel.
package wsproto

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TypeSubscribe  Type = "subscribe"
	TypeSubscribed Type = "subscribed"
	TypeChange     Type = "change"
	TypeError      Type = "error"
)

type Event string

const (
	EventInsert Event = "insert"
	EventUpdate Event = "update"
	EventDelete Event = "delete"
)

// Message is one frame. Which fields are set depends on Type:
// subscribe carries Tables and BranchID, change carries Table, Event and the
// records, error carries Error.
type Message struct {
	Type      Type           `json:"type"`
	BranchID  string         `json:"branch_id,omitempty"`
	Tables    []string       `json:"tables,omitempty"`
	Table     string         `json:"table,omitempty"`
	Event     Event          `json:"event,omitempty"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func Subscribe(branchID string, tables []string) Message {
	return Message{Type: TypeSubscribe, BranchID: branchID, Tables: tables}
}

func Subscribed(tables []string) Message {
	return Message{Type: TypeSubscribed, Tables: tables}
}

func Change(table string, ev Event, record, old map[string]any) Message {
	return Message{Type: TypeChange, Table: table, Event: ev, Record: record, OldRecord: old}
}

func Error(msg string) Message {
	return Message{Type: TypeError, Error: msg}
}

// Decode parses a frame and checks that its type is known.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case TypeSubscribe, TypeSubscribed, TypeChange, TypeError:
		return m, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
}
