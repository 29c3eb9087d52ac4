// Command parrot-gateway runs the host command gateway.
//
// It lives on the host machine and executes allowlisted commands for
// bridges running inside the container. Authentication is mandatory; the
// process refuses to start without a configured token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ciana/parrot/gateway"
	"github.com/ciana/parrot/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default parrot.toml)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	bridges := make(map[string]gateway.Bridge, len(cfg.Gateway.Bridges))
	for name, rules := range cfg.Gateway.Bridges {
		b, err := gateway.NewBridge(rules.AllowedCommands, rules.AllowedCwd)
		if err != nil {
			logger.Error("bridge config invalid", "bridge", name, "error", err)
			os.Exit(1)
		}
		bridges[name] = b
	}

	srv, err := gateway.NewServer(cfg.Gateway.Token, bridges,
		gateway.WithServerLogger(logger),
		gateway.WithDefaultTimeout(time.Duration(cfg.Gateway.DefaultTimeout)*time.Second),
	)
	if err != nil {
		logger.Error("gateway startup refused", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", cfg.Gateway.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("gateway listening", "addr", addr, "bridges", len(bridges))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	logger.Info("gateway stopped")
}
