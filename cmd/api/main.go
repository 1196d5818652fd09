package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"echopush/internal/config"
	"echopush/internal/delivery"
	"echopush/internal/httpapi"
	"echopush/internal/httpserver"
	"echopush/internal/jobstore"
	"echopush/internal/logging"
	"echopush/internal/observability"
	"echopush/internal/service"
	"echopush/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}

	queue := jobstore.NewQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	queue.OnStateChange = func(from, to jobstore.State) {
		slog.Info("job store state changed", "from", from.String(), "to", to.String())
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

	st := pg.New(db)
	scheduler := &delivery.Scheduler{
		Jobs:    queue,
		Timeout: time.Duration(cfg.ScheduleTimeoutMs) * time.Millisecond,
	}
	svc := &service.EchoService{
		Store:          st,
		Scheduler:      scheduler,
		MinRandomDelay: time.Duration(cfg.RandomDeliverMinHours) * time.Hour,
		MaxRandomDelay: time.Duration(cfg.RandomDeliverMaxHours) * time.Hour,
	}

	s := httpserver.New()
	api := &httpserver.API{Svc: svc}
	api.Register(s.Mux)

	metricsMux := httpapi.New().Mux
	metricsMux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
		func(c context.Context) error { return queue.Ping(c) },
	))
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Handler(observability.APIRequests),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	_ = queue.Close()
	db.Close()
}
