package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults when empty)")
	flag.Parse()

	srv, cleanup, err := injector.InitializeServer(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing server:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = srv.Host.Start(ctx); err != nil {
		srv.Logger.Error("Error starting server", log.Error(err))
		return
	}
	for _, addr := range srv.Host.Addrs() {
		srv.Logger.Info("Listening", log.Stringer("addr", addr))
	}

	if err = srv.Host.Run(ctx); err != nil {
		srv.Logger.Error("Error stopping server", log.Error(err))
	}
}
