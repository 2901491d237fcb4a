package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowlock/internal/app"
	"escrowlock/internal/config"
	"escrowlock/internal/log"
	"escrowlock/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.L(ctx).Fatalf("config error: %v", err)
	}
	log.Init(cfg.Log)

	metrics := server.NewMetrics()
	a, err := app.Build(ctx, cfg, app.Options{Observer: metrics.ObserveState})
	if err != nil {
		log.L(ctx).Fatalf("startup error: %v", err)
	}
	defer a.Close()

	a.Reconciler.OnPass = metrics.ObserveReconcile

	apiServer := server.NewServer(cfg, server.Deps{
		Locker:      a.Workflow,
		Idempotency: a.Idempotency,
		Records:     a.Records,
		Metrics:     metrics,
		RPCHealth:   a.RPCHealth(),
		StoreHealth: a.StoreHealth(),
	})

	bgCtx, stopBackground := context.WithCancel(ctx)
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		_ = a.Reconciler.Run(bgCtx)
	}()

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.L(ctx).Errorf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.L(ctx).Infof("received %s, shutting down", sig)

	// In-flight locks may still be polling for confirmation.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Service.LockTimeout+5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.L(ctx).Warnf("shutdown: %v", err)
	}
	stopBackground()
	<-reconcilerDone
}
