package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/abci/server"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"globaltable/internal/app"
	"globaltable/internal/config"
	"globaltable/internal/eventlog"
	"globaltable/internal/fanout"
	"globaltable/internal/ledger"
	"globaltable/internal/rng"
	"globaltable/internal/table"
)

func startCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Recover the tables and serve them behind an ABCI server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("abci.addr", v.GetString("abci.addr"), "ABCI listen address")
	cmd.Flags().String("abci.transport", v.GetString("abci.transport"), "ABCI transport (socket|grpc)")
	cmd.Flags().Uint64("engine.tick_ms", v.GetUint64("engine.tick_ms"), "table tick interval in milliseconds")
	return cmd
}

func runNode(ctx context.Context, cfg config.Config, logger log.Logger) error {
	dataDir := filepath.Join(cfg.Home, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	store, err := eventlog.OpenDir(dataDir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	appDB, err := dbm.NewDB("app", dbm.GoLevelDBBackend, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = appDB.Close() }()

	led := ledger.NewMemory()
	funding, err := cfg.Ledger.Funding()
	if err != nil {
		return err
	}
	for p, chips := range funding {
		led.Fund(p, chips)
	}

	opts, err := cfg.AppOptions()
	if err != nil {
		return err
	}
	beacon := rng.NewBeacon(opts.SeedRetain)
	hub := fanout.NewHub(cfg.Fanout.QueueSize, cfg.Fanout.CriticalCap, logger)
	tables, err := cfg.TableConfigs()
	if err != nil {
		return err
	}
	mgr, err := table.NewManager(tables, cfg.Engine.Options(), table.Deps{
		Journal:   store,
		Ledger:    led,
		Seeds:     beacon,
		Publisher: hub,
		Logger:    logger,
	}, cfg.Engine.Tick(), nil)
	if err != nil {
		return err
	}
	if err := mgr.Recover(ctx, store, cfg.Engine.ReplayBudget()); err != nil {
		return err
	}

	// restores retained block seeds before the tables start ticking
	a, err := app.New(appDB, mgr, beacon, hub, opts, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })

	srv, err := server.NewServer(cfg.ABCI.Addr, cfg.ABCI.Transport, a)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	logger.Info("gtabled started", "addr", cfg.ABCI.Addr, "tables", len(tables), "home", cfg.Home)
	<-gctx.Done()
	logger.Info("shutting down")
	return g.Wait()
}
