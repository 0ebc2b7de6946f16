package remote

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCStore talks to the rowstore service.
type GRPCStore struct {
	endpointURL string
	accessToken string
	conn        *grpc.ClientConn
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCStore) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCStore creates a lazily connecting client. Extra dial options are
// appended after the defaults.
func NewGRPCStore(endpointURL, accessToken string, opts ...grpc.DialOption) (*GRPCStore, error) {
	s := &GRPCStore{endpointURL: endpointURL, accessToken: accessToken}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return s, nil
}

func (s *GRPCStore) Close() error {
	return s.conn.Close()
}

func (s *GRPCStore) Upsert(ctx context.Context, table models.Table, rows []wire.Row) error {
	req, err := rowstore.UpsertRequest{Table: string(table), Rows: rows}.Struct()
	if err != nil {
		return fmt.Errorf("encode upsert: %w", err)
	}
	return s.invoke(ctx, rowstore.MethodUpsert, req, new(structpb.Struct))
}

func (s *GRPCStore) Delete(ctx context.Context, table models.Table, ids []string, branchID string) error {
	req, err := rowstore.DeleteRequest{Table: string(table), BranchID: branchID, IDs: ids}.Struct()
	if err != nil {
		return fmt.Errorf("encode delete: %w", err)
	}
	return s.invoke(ctx, rowstore.MethodDelete, req, new(structpb.Struct))
}

func (s *GRPCStore) Select(ctx context.Context, table models.Table, q Query) ([]wire.Row, error) {
	req, err := rowstore.SelectRequest{
		Table:    string(table),
		BranchID: q.BranchID,
		Since:    q.Since,
		Offset:   q.Offset,
		Limit:    q.Limit,
	}.Struct()
	if err != nil {
		return nil, fmt.Errorf("encode select: %w", err)
	}

	resp := new(structpb.Struct)
	if err := s.invoke(ctx, rowstore.MethodSelect, req, resp); err != nil {
		return nil, err
	}

	out, err := rowstore.ParseSelectResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("decode select: %w", err)
	}
	return out.Rows, nil
}

func (s *GRPCStore) Ping(ctx context.Context) error {
	resp := new(structpb.Struct)
	if err := s.invoke(ctx, rowstore.MethodPing, &structpb.Struct{}, resp); err != nil {
		return err
	}
	if rowstore.ParsePing(resp).Status != rowstore.StatusOK {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCStore) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	return mapError(s.conn.Invoke(ctx, method, req, resp))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrMissingParent, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
