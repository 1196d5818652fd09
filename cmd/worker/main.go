package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"echopush/internal/awsutil"
	"echopush/internal/config"
	"echopush/internal/deadletter"
	"echopush/internal/delivery"
	"echopush/internal/httpapi"
	"echopush/internal/jobstore"
	"echopush/internal/logging"
	"echopush/internal/observability"
	"echopush/internal/providers/fcm"
	"echopush/internal/store/pg"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:        cfg.DBPoolMaxConns,
		MinConns:        cfg.DBPoolMinConns,
		MaxConnLifetime: cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime: cfg.DBPoolMaxConnIdleTime,
	})
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	queue := jobstore.NewQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	queue.OnStateChange = func(from, to jobstore.State) {
		slog.Info("job store state changed", "from", from.String(), "to", to.String())
	}

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if err := queue.Connect(startupCtx); err != nil {
		slog.Error("job store not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	// health server (liveness + readiness)
	healthMux := httpapi.New().Mux
	healthMux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
		func(c context.Context) error { return queue.Ping(c) },
	))
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpapi.Logging(healthMux)}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	transport := &fcm.Client{
		ServerKey: cfg.FCMServerKey,
		Endpoint:  cfg.FCMEndpoint,
		HTTP:      &http.Client{Timeout: time.Duration(cfg.FCMTimeoutMs) * time.Millisecond},
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.FCMRPSPerPod), cfg.FCMBurst)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	worker := &delivery.Worker{
		Echoes:      st,
		Devices:     st,
		Transport:   transport,
		Limiter:     limiter,
		Breaker:     cb,
		SendTimeout: time.Duration(cfg.DeviceSendTimeoutS) * time.Second,
	}

	dispatcher := &jobstore.Dispatcher{
		Queue:        queue,
		Handler:      worker.Handle,
		Concurrency:  cfg.WorkerConcurrency,
		StartLimiter: rate.NewLimiter(rate.Limit(cfg.DispatchRPS), cfg.DispatchBurst),
		MaxAttempts:  cfg.JobMaxAttempts,
		BackoffBase:  time.Duration(cfg.JobBackoffBaseMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		Reporter:     &deadletter.Reporter{SQS: sqsClient, QueueURL: cfg.DeadLetterQueueURL},
	}

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker dispatching", "concurrency", cfg.WorkerConcurrency)
		runErrCh <- dispatcher.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker dispatch failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-runErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for dispatch loop")
	}

	_ = queue.Close()
}
