// Package server initializes and runs the loan collection backend: the row
// store over gRPC and the realtime change feed plus /metrics over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/server/auth"
	"github.com/dmitrijs2005/loancollect/internal/server/config"
	"github.com/dmitrijs2005/loancollect/internal/server/realtime"
	"github.com/dmitrijs2005/loancollect/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/loancollect/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/loancollect/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	rows     *services.RowService
	hub      *realtime.Hub
	registry *prometheus.Registry
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.Open(c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "loancollect"))

	secret := []byte(c.SecretKey)
	hub := realtime.NewHub(func(token string) (*auth.Claims, error) {
		return auth.ParseToken(token, secret)
	}, logger, reg, realtime.Options{})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		rows:     services.NewRowService(db, rm, hub, reg),
		hub:      hub,
		registry: reg,
	}, nil
}

func (app *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/realtime", app.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.rows.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func (app *App) runHTTPServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		app.hub.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until SIGINT/SIGTERM/SIGQUIT or a server failure.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.rows, app.config.SecretKey).Run(ctx)
	})
	g.Go(func() error {
		return app.runHTTPServer(ctx)
	})

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
	}
	return err
}
