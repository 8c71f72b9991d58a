package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/drowseguard/drowseguard/internal/alerts"
	"github.com/drowseguard/drowseguard/internal/api"
	"github.com/drowseguard/drowseguard/internal/auth"
	"github.com/drowseguard/drowseguard/internal/config"
	"github.com/drowseguard/drowseguard/internal/history"
	"github.com/drowseguard/drowseguard/internal/metrics"
	"github.com/drowseguard/drowseguard/internal/monitor"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/receiver"
	"github.com/drowseguard/drowseguard/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, _ io.Writer) error {
	fset := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fset.String("config", "drowseguard.yaml", "path to config file")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := alerts.Validate(cfg.Alerts); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	slog.SetDefault(newLogger(os.Stdout, cfg.Log.Format, level))

	slog.Info("drowseguard starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"classifier", cfg.Detector.Classifier,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Storage.Backend,
	)

	ctx, cancel := context.WithCancel(ctx)
	notifier := alerts.New(cfg.Alerts)

	// Background loops stop and drain before the history store closes, on
	// every return path.
	var (
		wg    sync.WaitGroup
		store *history.Store
	)
	defer func() {
		cancel()
		wg.Wait()
		notifier.Wait()
		if store != nil {
			if err := store.Close(); err != nil {
				slog.Warn("history store close", "err", err)
			}
		}
	}()
	goRun := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	// Stream registry with background TTL eviction.
	det := cfg.Detector
	reg := monitor.New(cfg.Server.StreamTTL, det.Settings(), func() ocular.Classifier {
		return ocular.NewClassifier(det.Classifier, det.FixedOpenness)
	})
	goRun(reg.Run)

	reg.AddObserver(notifier)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg, reg)
	reg.AddObserver(m)

	var hist api.HistoryReader
	if cfg.Storage.Backend != "none" {
		if store, err = history.Open(ctx, cfg.Storage.Backend, cfg.Storage.DSN()); err != nil {
			return err
		}
		hist = store

		rec := history.NewRecorder(store, cfg.Storage.QueueSize, m.HistoryDropped)
		reg.AddObserver(rec)
		goRun(rec.Run)
	}

	handler := api.New(reg, notifier, hist)
	hub := ws.New(func() any { return handler.Snapshot() }, cfg.Server.BroadcastInterval)
	reg.AddObserver(hub)
	goRun(hub.Run)

	// Detector settings and log level follow the config file.
	goRun(func(ctx context.Context) {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			applied := reg.Configure(updated.Detector.Settings())
			level.Set(updated.Log.SlogLevel())
			slog.Info("config hot-reloaded",
				"low_threshold", applied.LowThreshold,
				"required_frames", applied.RequiredFrames,
				"log_level", level.Level().String())
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	})

	verifier := auth.New(cfg.Server.Auth)

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(
			grpc.UnaryInterceptor(verifier.UnaryInterceptor()),
			grpc.StreamInterceptor(verifier.StreamInterceptor()),
		)
		receiver.Register(grpcSrv, receiver.New(reg))

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen grpc :%d: %w", cfg.Server.GRPCPort, err)
		}
		go func() {
			slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", verifier.Middleware(handler, "/api/v1/health"))
	mux.Handle("/ws", verifier.Middleware(hub))
	mux.Handle("/metrics", m.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		slog.Error("HTTP server stopped", "err", err)
		serveErr = fmt.Errorf("serve http :%d: %w", cfg.Server.HTTPPort, err)
		cancel()
	}

	slog.Info("drowseguard shutting down")
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}

	return serveErr
}
