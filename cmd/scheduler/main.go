package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-payments/internal/config"
	"github.com/ariefcatur/go-realtime-payments/internal/logging"
	"github.com/ariefcatur/go-realtime-payments/internal/postgres"
	"github.com/ariefcatur/go-realtime-payments/internal/promotion"
	"github.com/ariefcatur/go-realtime-payments/internal/redisx"
	"github.com/ariefcatur/go-realtime-payments/internal/roles"
)

// every runs fn now and then on each tick until ctx is done. A failed run
// is logged and retried on the next tick.
func every(ctx context.Context, log *zap.Logger, name string, d time.Duration, fn func(context.Context) (int, error)) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		n, err := fn(ctx)
		if err != nil {
			log.Error(name+"_failed", zap.Error(err))
		} else if n > 0 {
			log.Info(name, zap.Int("changed", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logging.Must(cfg.ServiceName+"-scheduler", cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db_connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	st := postgres.NewStore(db)
	c := redisx.NewCache(rdb, cfg.ServiceName)
	promos := &promotion.Scheduler{Store: st, Cache: c, Log: log}
	rs := &roles.Service{Store: st, Cache: c, Log: log}

	log.Info("scheduler_started", zap.Duration("interval", cfg.SchedulerInterval))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(gctx, log, "promotions_refreshed", cfg.SchedulerInterval, promos.Refresh) })
	g.Go(func() error { return every(gctx, log, "roles_expired", cfg.SchedulerInterval, rs.ExpireRoles) })
	if err := g.Wait(); err != nil {
		log.Error("exit", zap.Error(err))
	}
}
