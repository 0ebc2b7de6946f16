package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/server/auth"
	smodels "github.com/dmitrijs2005/loancollect/internal/server/models"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeRows struct {
	mu      sync.Mutex
	upserts map[string][]smodels.Row
	deletes []string
	scopes  []string
	queries []rows.Query
	err     error
	pingErr error
}

func (f *fakeRows) Upsert(ctx context.Context, scope, table string, in []smodels.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return f.err
	}
	if f.upserts == nil {
		f.upserts = map[string][]smodels.Row{}
	}
	f.upserts[table] = append(f.upserts[table], in...)
	return nil
}

func (f *fakeRows) Delete(ctx context.Context, scope, table, branchID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, fmt.Sprintf("%s/%s/%v", table, branchID, ids))
	return f.err
}

func (f *fakeRows) Select(ctx context.Context, scope string, q rows.Query) ([]smodels.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return []smodels.Row{{"id": "c1", "branch_id": "b1", "installments": float64(3)}}, nil
}

func (f *fakeRows) Ping(ctx context.Context) error { return f.pingErr }

// serve runs s on an in-memory listener and returns a client bound to it.
func serve(t *testing.T, s *GRPCServer, token string) *remote.GRPCStore {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	client, err := remote.NewGRPCStore("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return client
}

func token(t *testing.T, branchID string) string {
	t.Helper()
	tok, err := auth.GenerateToken("u1", branchID, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func TestServer_RoundTrip(t *testing.T) {
	fr := &fakeRows{}
	client := serve(t, newTestServer(fr), token(t, "b1"))
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Upsert(ctx, models.TableClients, []map[string]any{{"id": "c1", "branch_id": "b1"}}))
	require.NoError(t, client.Delete(ctx, models.TableLoans, []string{"l1"}, "b1"))

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out, err := client.Select(ctx, models.TableClients, remote.Query{BranchID: "b1", Since: &since, Limit: 500})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float64(3), out[0]["installments"])

	assert.Equal(t, []string{"b1"}, fr.scopes)
	assert.Equal(t, "c1", fr.upserts["clients"][0]["id"])
	assert.Equal(t, []string{"loans/b1/[l1]"}, fr.deletes)
	require.Len(t, fr.queries, 1)
	assert.Equal(t, 500, fr.queries[0].Limit)
	assert.True(t, since.Equal(*fr.queries[0].Since))
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("%w: clients c1", common.ErrMissingParent), remote.ErrMissingParent},
		{common.ErrInvalidRecord, remote.ErrRejected},
		{common.ErrBranchScope, remote.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			fr := &fakeRows{err: tt.err}
			client := serve(t, newTestServer(fr), token(t, ""))
			err := client.Upsert(context.Background(), models.TableLoans, []map[string]any{{"id": "l1"}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServer_Unauthenticated(t *testing.T) {
	client := serve(t, newTestServer(&fakeRows{}), "bogus")

	require.NoError(t, client.Ping(context.Background()))
	_, err := client.Select(context.Background(), models.TableClients, remote.Query{})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestServer_PingReportsDatabase(t *testing.T) {
	client := serve(t, newTestServer(&fakeRows{pingErr: errors.New("down")}), "")

	assert.ErrorIs(t, client.Ping(context.Background()), remote.ErrUnavailable)
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"))))
	assert.Equal(t, "internal error", status.Convert(toStatus(errors.New("boom"))).Message())
	assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(common.ErrUnknownTable)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	s := NewGRPCServer("127.0.0.1:99999", newTestServer(nil).logger, nil, secret)
	assert.Error(t, s.Run(context.Background()))
}
