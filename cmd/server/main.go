package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tabletop"
	"tabletop/internal/config"
	"tabletop/internal/game"
	"tabletop/internal/game/tictactoe"
	"tabletop/internal/logging"
	"tabletop/internal/server"
	"tabletop/internal/session"
	"tabletop/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("open database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	registry := game.NewRegistry()
	registry.Register(tictactoe.TicTacToe{Options: tictactoe.Options{
		InitialTime:      cfg.TicTacToe.InitialTime,
		Increment:        cfg.TicTacToe.Increment,
		MaximumTime:      cfg.TicTacToe.MaximumTime,
		TickInterval:     cfg.TicTacToe.TickInterval,
		ForfeitOnTimeout: cfg.TicTacToe.ForfeitOnTimeout,
	}})

	mgr := session.NewManager(registry, store, session.Options{
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	})
	if err := mgr.Reconcile(); err != nil {
		logger.Warn("reconcile sessions", zap.Error(err))
	}
	go mgr.CleanupLoop(cfg.CleanupInterval, cfg.SessionMaxAge)

	webFS, err := fs.Sub(tabletop.WebFS, "web")
	if err != nil {
		logger.Fatal("embedded web files", zap.Error(err))
	}
	if cfg.WebDir != "" {
		webFS = os.DirFS(cfg.WebDir)
	}
	srv := server.New(registry, mgr, webFS, logger)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
