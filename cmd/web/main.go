package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/app"
	"github.com/AdamBeresnev/cuptrack/internal/config"
	"github.com/AdamBeresnev/cuptrack/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "path to a config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(config.New(configFile))
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Error("failed to close data directory", "error", err)
		}
	}()

	a.Maintain(ctx)
	go func() {
		if err := a.ServeDelegation(ctx); err != nil {
			slog.Error("delegation stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", cfg.HTTPAddr, "data_dir", cfg.DataDir, "role", a.Role())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
