package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/server"
)

func main() {
	if err := run(); err != nil {
		logging.Logger().Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		// Logging is not configured yet; use the default text logger.
		logging.Logger().Error("invalid configuration", "error", err)
		return err
	}
	logging.Init(cfg.SlogLevel(), cfg.LogJSON)
	log := logging.Component("main")

	log.Info("starting tinyuptime",
		"version", server.Version,
		"backend", cfg.Backend,
		"data_dir", cfg.DataDir,
		"max_memory_mb", cfg.MaxMemoryMB,
		"max_disk_gb", cfg.MaxDiskGB,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := server.InitializeStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Warn("storage close failed", "error", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	components, err := server.InitializeHandlers(cfg, gw, promReg)
	if err != nil {
		return err
	}

	handler := server.SetupRoutes(mux.NewRouter(), components, promReg, cfg)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		components.Hub.Run(ctx)
	}()

	wg.Add(1)
	go server.RunBadgerGC(ctx, gw, config.BadgerGCInterval, &wg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
	}

	// Cancel first so the hub and GC loops exit before wg.Wait.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("background tasks stopped")
	case <-time.After(config.TaskStopTimeout):
		log.Warn("background tasks did not stop in time")
	}

	log.Info("tinyuptime exited cleanly")
	return nil
}
