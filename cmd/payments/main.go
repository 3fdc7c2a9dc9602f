package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-payments/internal/config"
	"github.com/ariefcatur/go-realtime-payments/internal/gateway"
	"github.com/ariefcatur/go-realtime-payments/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-payments/internal/kafka"
	"github.com/ariefcatur/go-realtime-payments/internal/logging"
	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
	"github.com/ariefcatur/go-realtime-payments/internal/payments"
	"github.com/ariefcatur/go-realtime-payments/internal/postgres"
	"github.com/ariefcatur/go-realtime-payments/internal/redisx"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logging.Must(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db_connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db_migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Kafka producer runs on its own context so it can flush after the
	// consumer and HTTP server have stopped.
	prodCtx, stopProd := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)

	svc := payments.New(postgres.NewStore(db), redisx.NewCache(rdb, cfg.ServiceName), prod, log, m)
	svc.ServiceName = cfg.ServiceName
	svc.CacheTTL = cfg.CacheTTL

	h := &gateway.Handler{
		Payments: svc,
		Dedup:    redisx.NewDedup(rdb, cfg.GatewayGroup),
		Log:      log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.GatewayGroup, shop.TopicGatewayResult, cfg.GatewayWorkers, log)

	router := httpx.NewRouter(log, reg, map[string]httpx.Check{
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gateway_consumer_started",
			zap.String("group", cfg.GatewayGroup),
			zap.String("topic", shop.TopicGatewayResult),
			zap.Int("workers", cfg.GatewayWorkers))
		return cons.Start(gctx, h.Handle)
	})
	g.Go(func() error {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("exit", zap.Error(err))
	}
	stopProd()
	prod.WaitClosed()
}
