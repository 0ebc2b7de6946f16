package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/config"
	"github.com/dmitrijs2005/loancollect/internal/client/connectivity"
	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/puller"
	"github.com/dmitrijs2005/loancollect/internal/client/queue"
	"github.com/dmitrijs2005/loancollect/internal/client/realtime"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/client/syncer"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/filex"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options replace the production collaborators, e.g. with in-memory ones
// for a demo or a test.
type Options struct {
	Remote remote.Store
	Prober connectivity.Prober
	Dialer realtime.Dialer
	In     io.Reader
}

type App struct {
	cfg      *config.Config
	log      logging.Logger
	store    *store.Store
	monitor  *connectivity.Monitor
	syncer   *syncer.Syncer
	registry *prometheus.Registry
	metrics  *http.Server
	in       io.Reader
	closers  []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger, opts Options) (*App, error) {
	a := &App{cfg: cfg, log: log.With("module", "cli"), in: opts.In}
	if a.in == nil {
		a.in = os.Stdin
	}

	if err := filex.EnsureParentDir(cfg.DBPath); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	rs := opts.Remote
	if rs == nil {
		g, err := remote.NewGRPCStore(cfg.ServerEndpointAddr, cfg.AccessToken)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		rs = g
		a.closers = append(a.closers, g.Close)
	}

	prober := opts.Prober
	switch {
	case prober != nil:
	case opts.Remote != nil:
		prober = connectivity.ProberFunc(rs.Ping)
	default:
		prober = connectivity.TCPProber{Addr: cfg.ServerEndpointAddr}
	}
	a.monitor = connectivity.New(prober, log, connectivity.Options{Interval: cfg.OnlineCheckInterval})

	dialer := opts.Dialer
	if dialer == nil && cfg.RealtimeURL != "" {
		dialer = &realtime.WSDialer{URL: cfg.RealtimeURL, AccessToken: cfg.AccessToken}
	}

	c := clock.Real()
	a.registry = prometheus.NewRegistry()
	a.syncer = syncer.New(syncer.Deps{
		Store: st,
		Queue: queue.NewProcessor(st, rs, a.monitor, c, log, queue.Config{
			BatchSize:   cfg.BatchSize,
			PushTimeout: cfg.PushTimeout,
		}),
		Puller: puller.New(st, rs, c, log, puller.Config{
			BranchID:     cfg.BranchID,
			PageSize:     cfg.PageSize,
			PageTimeout:  cfg.PullTimeout,
			SafetyMargin: cfg.SafetyMargin,
		}),
		Net:           a.monitor,
		Dialer:        dialer,
		Clock:         c,
		Metrics:       syncer.NewMetrics(a.registry),
		OnDataUpdated: a.onData,
	}, log, syncer.Config{
		BranchID:     cfg.BranchID,
		BusyInterval: cfg.BusyInterval,
		IdleInterval: cfg.IdleInterval,
	})

	return a, nil
}

// Run starts the sync engine, runs the REPL until the user exits, and
// shuts everything down.
func (a *App) Run(ctx context.Context) {
	a.start(ctx)
	defer a.stop(ctx)

	printlnFn("Loan collector (type 'help' for commands)")
	runREPL(ctx, a, a.statusLine, bufio.NewScanner(a.in))
}

func (a *App) start(ctx context.Context) {
	a.monitor.Start(ctx)
	a.syncer.Start(ctx)

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
	}
}

func (a *App) stop(ctx context.Context) {
	if a.metrics != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = a.metrics.Shutdown(sctx)
		cancel()
	}
	a.syncer.Stop()
	a.monitor.Stop()
	if err := a.close(); err != nil {
		a.log.Error(ctx, "shutdown", "error", err)
	}
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onData(snap models.Snapshot, full bool) {
	if full {
		a.log.Info(context.Background(), "full sync applied", "records", snap.Len())
	}
}
