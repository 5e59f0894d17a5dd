// Command dispatcher consumes Kafka topics and delivers every message to an
// HTTP endpoint or a SQL table.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/memsql/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/singlestore-labs/dispatch"
	"github.com/singlestore-labs/dispatch/delivery"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/kafkalog"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("DISPATCH_CONFIG"), "path to YAML config file")
	flag.Parse()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher: %+v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Errorf("log level (%s): %w", level, err)
	}
	zc.Level = lvl
	return zc.Build()
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()
	tracer := dispatchmodels.TracerFunc(sugar.Infof)

	target, closeTarget, err := newTarget(cfg.Target, tracer)
	if err != nil {
		return err
	}
	defer closeTarget()

	client, err := kafkalog.New(cfg.Kafka, tracer)
	if err != nil {
		return err
	}
	opts := append(cfg.Consumer.Options(),
		dispatch.WithTracer(tracer),
		dispatch.WithErrorHandler(func(err error) {
			sugar.Warnw("kafka client error", "error", err)
		}))
	consumer, err := dispatch.New(client, target, cfg.Consumer.Topics, opts...)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	signalCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := consumer.Start(context.Background()); err != nil {
		return err
	}
	sugar.Infow("dispatcher started", "consumer", consumer.Name(), "topics", consumer.Topics(), "order", consumer.DeliveryOrder().String())

	select {
	case <-signalCtx.Done():
		sugar.Infow("shutting down", "consumer", consumer.Name())
	case <-consumer.Done():
		return errors.Errorf("consumer (%s) stopped unexpectedly", consumer.Name())
	}
	drainTimeout := cfg.Consumer.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = dispatch.DefaultDrainTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout+shutdownGrace)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		return err
	}
	sugar.Infow("dispatcher stopped", "consumer", consumer.Name())
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newTarget(tc TargetConfig, tracer dispatchmodels.Tracer) (dispatchmodels.DeliveryTarget, func(), error) {
	var target dispatchmodels.DeliveryTarget
	closeTarget := func() {}
	switch tc.Kind {
	case "http":
		timeout := tc.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		target = delivery.NewHTTPTarget(tc.URL, delivery.WithHTTPClient(&http.Client{Timeout: timeout}))
	case "sql":
		db, err := sql.Open(tc.Driver, tc.DSN)
		if err != nil {
			return nil, nil, errors.Errorf("open %s database: %w", tc.Driver, err)
		}
		closeTarget = func() { _ = db.Close() }
		sqlTarget, err := delivery.NewSQLTarget(db, delivery.Dialect(tc.Driver), tc.Table, delivery.WithIgnoreDuplicates(tc.IgnoreDuplicates))
		if err != nil {
			closeTarget()
			return nil, nil, err
		}
		target = sqlTarget
	default:
		return nil, nil, errors.Errorf("target kind (%s) must be 'http' or 'sql'", tc.Kind)
	}
	if tc.MaxConcurrency > 0 {
		target = delivery.NewLimited(target, tc.MaxConcurrency, tracer)
	}
	return target, closeTarget, nil
}
