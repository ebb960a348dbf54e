package app

import (
	"context"
	"fmt"

	"sentinel/internal/audit"
	"sentinel/internal/config"
	"sentinel/internal/coordinator"
	"sentinel/internal/gateway/binance"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/health"
	"sentinel/internal/lease"
	"sentinel/internal/logger"
	"sentinel/internal/reconcile"
	"sentinel/internal/store"
	"sentinel/internal/store/gormstore"
	opshttp "sentinel/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App owns the component graph and the lifetimes of the recurring tasks.
type App struct {
	cfg        *config.Config
	cfgPath    string
	store      store.Store
	classifier *reconcile.Classifier
	monitor    *reconcile.Monitor
	checker    *health.Checker
	httpSrv    *opshttp.Server
}

// NewApp builds the full graph. Every component receives its store handle
// and gateway explicitly; there is no ambient singleton.
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	return buildAppWithWire(cfg, cfgPath)
}

func newApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	st, err := gormstore.Open(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	gw, err := buildGateway(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	recorder := audit.NewRecorder(st.Inconsistencies())
	classifier := reconcile.NewClassifier(gw, tunablesFrom(cfg))
	writer := reconcile.NewWriter(st, gw, recorder, cfg.Exchange.TakerFeeRate)
	monitor := reconcile.NewMonitor(st, gw, classifier, writer, recorder, cfg.Reconcile.Interval)

	leases := lease.NewManager(st.KV(), cfg.Lease.TTL)
	coord := coordinator.New(leases, "", cfg.Lease.RecencyWindow)
	closer, _ := gw.(exchange.PartialCloser)
	checker := health.NewChecker(st, gw, closer, coord, health.Config{
		Interval:        cfg.Health.Interval,
		Stage1ProfitPct: cfg.Health.Stage1ProfitPct,
		Stage1Ratio:     cfg.Health.Stage1Ratio,
	})

	httpSrv, err := opshttp.NewServer(opshttp.ServerConfig{Addr: cfg.App.HTTPAddr, Store: st})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfg:        cfg,
		cfgPath:    cfgPath,
		store:      st,
		classifier: classifier,
		monitor:    monitor,
		checker:    checker,
		httpSrv:    httpSrv,
	}, nil
}

func buildGateway(cfg *config.Config) (exchange.Gateway, error) {
	switch cfg.Exchange.Name {
	case "", "binance":
		return binance.New(binance.Config{
			APIKey:      cfg.Exchange.APIKey,
			APISecret:   cfg.Exchange.APISecret,
			RESTBaseURL: cfg.Exchange.RESTBaseURL,
			HTTPTimeout: cfg.Exchange.HTTPTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Exchange.Name)
	}
}

func tunablesFrom(cfg *config.Config) reconcile.Tunables {
	return reconcile.Tunables{
		TradeSearchLimit:  cfg.Reconcile.TradeSearchLimit,
		TradeRetries:      cfg.Reconcile.TradeRetries,
		TradeRetryDelay:   cfg.Reconcile.TradeRetryDelay,
		PriceTolerancePct: cfg.Reconcile.PriceTolerancePct,
		WindowSlack:       cfg.Reconcile.WindowSlack,
		ExhaustiveWindow:  cfg.Reconcile.ExhaustiveWindow,
	}
}

// Run starts the recurring tasks and blocks until ctx is cancelled or one
// of them fails fatally.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warnf("closing ledger store: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.monitor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		a.checker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return a.httpSrv.Run(gctx)
	})
	if a.cfgPath != "" {
		watcher := config.NewWatcher(a.cfgPath, func(next *config.Config) {
			a.classifier.UpdateTunables(tunablesFrom(next))
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	return g.Wait()
}
