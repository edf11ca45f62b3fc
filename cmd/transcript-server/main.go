// Command transcript-server serves saved room transcripts without running
// a voice session.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mensis/room-scribe/internal/config"
	"github.com/mensis/room-scribe/internal/server"
	"github.com/mensis/room-scribe/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	deps := server.Deps{
		Transcripts: storage.NewFileStore(cfg.TranscriptsDir, cfg.SpeechDir),
		Metrics:     promhttp.Handler(),
	}

	ledger, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Warn("session ledger unavailable, serving transcripts only", "err", err)
	} else {
		defer func() { _ = ledger.Close() }()
		deps.Sessions = ledger
	}

	handler, err := server.Handler(deps)
	if err != nil {
		logger.Error("build http handler failed", "err", err)
		if ledger != nil {
			_ = ledger.Close()
		}
		os.Exit(1)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.Info("transcript server listening", "addr", cfg.ListenAddr, "dir", cfg.TranscriptsDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
}
