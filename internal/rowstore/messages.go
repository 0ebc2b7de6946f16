package rowstore

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusOK is the Ping answer of a healthy store.
const StatusOK = "OK"

type UpsertRequest struct {
	Table string
	Rows  []map[string]any
}

type DeleteRequest struct {
	Table    string
	BranchID string
	IDs      []string
}

type SelectRequest struct {
	Table    string
	BranchID string
	Since    *time.Time
	Offset   int
	Limit    int
}

type SelectResponse struct {
	Rows []map[string]any
}

type PingResponse struct {
	Status string
}

func (r UpsertRequest) Struct() (*structpb.Struct, error) {
	rows := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = row
	}
	return structpb.NewStruct(map[string]any{"table": r.Table, "rows": rows})
}

func ParseUpsert(s *structpb.Struct) (UpsertRequest, error) {
	m := s.AsMap()
	rows, err := rowsOf(m)
	if err != nil {
		return UpsertRequest{}, err
	}
	return UpsertRequest{Table: stringOf(m, "table"), Rows: rows}, nil
}

func (r DeleteRequest) Struct() (*structpb.Struct, error) {
	ids := make([]any, len(r.IDs))
	for i, id := range r.IDs {
		ids[i] = id
	}
	return structpb.NewStruct(map[string]any{"table": r.Table, "branch_id": r.BranchID, "ids": ids})
}

func ParseDelete(s *structpb.Struct) (DeleteRequest, error) {
	m := s.AsMap()
	raw, _ := m["ids"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		id, ok := v.(string)
		if !ok {
			return DeleteRequest{}, fmt.Errorf("ids: unexpected %T", v)
		}
		ids = append(ids, id)
	}
	return DeleteRequest{Table: stringOf(m, "table"), BranchID: stringOf(m, "branch_id"), IDs: ids}, nil
}

func (r SelectRequest) Struct() (*structpb.Struct, error) {
	m := map[string]any{
		"table":     r.Table,
		"branch_id": r.BranchID,
		"offset":    float64(r.Offset),
		"limit":     float64(r.Limit),
	}
	if r.Since != nil {
		m["since"] = r.Since.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(m)
}

func ParseSelect(s *structpb.Struct) (SelectRequest, error) {
	m := s.AsMap()
	r := SelectRequest{Table: stringOf(m, "table"), BranchID: stringOf(m, "branch_id")}

	var err error
	if r.Offset, err = intOf(m, "offset"); err != nil {
		return SelectRequest{}, err
	}
	if r.Limit, err = intOf(m, "limit"); err != nil {
		return SelectRequest{}, err
	}
	if since := stringOf(m, "since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return SelectRequest{}, fmt.Errorf("since: %w", err)
		}
		r.Since = &t
	}
	return r, nil
}

func (r SelectResponse) Struct() (*structpb.Struct, error) {
	rows := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = row
	}
	return structpb.NewStruct(map[string]any{"rows": rows})
}

func ParseSelectResponse(s *structpb.Struct) (SelectResponse, error) {
	rows, err := rowsOf(s.AsMap())
	if err != nil {
		return SelectResponse{}, err
	}
	return SelectResponse{Rows: rows}, nil
}

func (r PingResponse) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"status": structpb.NewStringValue(r.Status)}}
}

func ParsePing(s *structpb.Struct) PingResponse {
	return PingResponse{Status: stringOf(s.AsMap(), "status")}
}

// TombstoneID derives the tombstone id from the deleted record, so repeated
// deletes of one record write one tombstone.
func TombstoneID(table, recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tombstone:"+table+"/"+recordID)).String()
}

func stringOf(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intOf(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) || v < 0 {
			return 0, fmt.Errorf("%s: not a non-negative integer", key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s: unexpected %T", key, v)
	}
}

func rowsOf(m map[string]any) ([]map[string]any, error) {
	raw, _ := m["rows"].([]any)
	rows := make([]map[string]any, 0, len(raw))
	for i, v := range raw {
		row, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rows[%d]: unexpected %T", i, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
