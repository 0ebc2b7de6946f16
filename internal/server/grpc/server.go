// Package grpc exposes the row store over gRPC using the rowstore contract.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
	"github.com/dmitrijs2005/loancollect/internal/server/models"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/rows"
	"google.golang.org/grpc"
)

// RowService is the part of services.RowService the handlers use.
type RowService interface {
	Upsert(ctx context.Context, scope, table string, in []models.Row) error
	Delete(ctx context.Context, scope, table, branchID string, ids []string) error
	Select(ctx context.Context, scope string, q rows.Query) ([]models.Row, error)
	Ping(ctx context.Context) error
}

type GRPCServer struct {
	address   string
	rows      RowService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, rs RowService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		rows:      rs,
		jwtSecret: []byte(secretKey),
	}
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	rowstore.RegisterServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
