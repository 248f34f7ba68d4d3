package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/peer"
	"github.com/matheus3301/chatsync/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	listen := flag.String("listen", "", "listen address (default from config [relay] listen)")
	debug := flag.Bool("debug", false, "log dropped and malformed frames")
	flag.Parse()

	cfg, err := session.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	addr := *listen
	if addr == "" {
		addr = cfg.Relay.Listen
	}
	if addr == "" {
		addr = config.Default().Relay.Listen
	}

	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}
	logger := logging.Console("relay", level)
	defer func() { _ = logger.Sync() }()

	hub := peer.NewHub(logger)
	mux := http.NewServeMux()
	mux.Handle("GET /relay", hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok %d\n", hub.Clients())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("relay server failed", zap.Error(err))
	}
	logger.Info("relay stopped")
}
