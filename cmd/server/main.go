package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pbn-studio/internal/api"
	"pbn-studio/internal/config"
	"pbn-studio/internal/generation"
	"pbn-studio/internal/service"
	"pbn-studio/internal/storage"
	"pbn-studio/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.DataPath)
	if err != nil {
		logger.Error("init store", "path", cfg.DataPath, "err", err)
		os.Exit(1)
	}

	profile, err := cfg.GenerationProfile()
	if err != nil {
		logger.Error("resolve generation profile", "err", err)
		os.Exit(1)
	}
	client, err := generation.NewClient(generation.Config{
		BaseURL:       cfg.Service.BaseURL,
		Profile:       profile,
		Timeout:       cfg.Service.Timeout,
		HealthTimeout: cfg.Service.HealthTimeout,
		Normalize:     cfg.NormalizeOptions(),
		Logger:        logger,
	})
	if err != nil {
		logger.Error("init generation client", "err", err)
		os.Exit(1)
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	session, err := service.NewSession(service.Config{
		Generator:    client,
		Store:        store,
		Events:       hub,
		Logger:       logger,
		SampleWindow: cfg.SampleWindow,
	})
	if err != nil {
		logger.Error("init session", "err", err)
		os.Exit(1)
	}
	defer session.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(session, hub, cfg.MaxUploadSizeBytes, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			"addr", cfg.ListenAddr,
			"service", cfg.Service.BaseURL,
			"profile", profile.Name,
			"detail_min", profile.DetailMin,
			"detail_max", profile.DetailMax,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("server stopped")
}
