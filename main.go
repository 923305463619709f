package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/coordinator"
	"github.com/KNICEX/kryptobot/ioc"
	"go.uber.org/zap"
)

func main() {
	if err := ioc.InitViper(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := ioc.InitLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		if errors.Is(err, errs.ErrFatalConfiguration) {
			logger.Error("fatal configuration error", zap.Error(err))
		} else {
			logger.Error("kryptobot stopped with error", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	watchlist, err := ioc.InitWatchlist()
	if err != nil {
		return err
	}
	db, err := ioc.InitDB()
	if err != nil {
		return err
	}
	client, err := ioc.InitExchange(logger)
	if err != nil {
		return err
	}
	store, err := ioc.InitStore()
	if err != nil {
		return err
	}
	feedMgr, err := ioc.InitFeed(client, store, logger)
	if err != nil {
		return err
	}
	eng, err := ioc.InitEngine(store, logger)
	if err != nil {
		return err
	}
	exec, err := ioc.InitExecution(client, store, db, logger)
	if err != nil {
		return err
	}
	strategies, err := ioc.InitStrategies(ctx, watchlist)
	if err != nil {
		return err
	}
	dash, err := ioc.InitDashboard(store, logger)
	if err != nil {
		return err
	}
	cfg, err := ioc.InitCoordinatorConfig()
	if err != nil {
		return err
	}

	coord := coordinator.NewCoordinator(client, store, feedMgr, eng, exec, strategies, watchlist, cfg,
		coordinator.WithDashboard(dash),
		coordinator.WithLogger(logger.Named("coordinator")),
	)
	logger.Info("kryptobot started", zap.Int("strategies", len(strategies)), zap.Int("watchlist", len(watchlist)))
	return coord.Run(ctx)
}
