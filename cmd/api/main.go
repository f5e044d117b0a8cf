package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formvault/api/internal/app"
	"formvault/api/internal/config"
	"formvault/api/internal/email"
	"formvault/api/internal/search"
	"formvault/api/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger.Info("document store ready", "backend", cfg.StoreBackend, "data_dir", cfg.DataDir)

	opts := app.Options{Logger: logger}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		revoker, err := session.NewRedisRevoker(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer revoker.Close()
		if err := revoker.Ping(ctx); err != nil {
			return err
		}
		logger.Info("using redis for token revocation")
		opts.Revoker = revoker
	} else {
		logger.Info("using in-memory token revocation")
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		opts.Meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		opts.Notifier = mailer
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objects, err := app.OpenObjectStore(ctx, cfg)
		if err != nil {
			return err
		}
		opts.Objects = objects
	}

	service := app.New(cfg, backend.Host, opts)
	defer service.Close()
	go service.Reindex(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("formvault api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
