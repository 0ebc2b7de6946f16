package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func scope(ctx context.Context) string {
	if c := claimsFrom(ctx); c != nil {
		return c.BranchID
	}
	return ""
}

func (s *GRPCServer) Upsert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := rowstore.ParseUpsert(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.rows.Upsert(ctx, scope(ctx), r.Table, r.Rows); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := rowstore.ParseDelete(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.rows.Delete(ctx, scope(ctx), r.Table, r.BranchID, r.IDs); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := rowstore.ParseSelect(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := s.rows.Select(ctx, scope(ctx), rows.Query{
		Table:    r.Table,
		BranchID: r.BranchID,
		Since:    r.Since,
		Offset:   r.Offset,
		Limit:    r.Limit,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := rowstore.SelectResponse{Rows: out}.Struct()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.rows.Ping(ctx); err != nil {
		s.logger.Error(ctx, "database ping failed", "error", err)
		return nil, status.Error(codes.Unavailable, "database unavailable")
	}
	return rowstore.PingResponse{Status: rowstore.StatusOK}.Struct(), nil
}

// toStatus maps service errors onto the codes the client classifies.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrMissingParent):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrUnknownTable),
		errors.Is(err, common.ErrInvalidRecord),
		errors.Is(err, common.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrBranchScope):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
