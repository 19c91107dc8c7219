package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media_gateway/internal/config"
	"media_gateway/internal/httpapi"
	"media_gateway/internal/utils"
)

func main() {
	logger := utils.NewLogger("main")

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("Failed to read .env", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create router with all dependencies
	handler, deps, err := httpapi.NewRouter(ctx, cfg)
	if err != nil {
		logger.Error("Failed to build router", "error", err)
		os.Exit(1)
	}

	// Uploads may hold a request for the whole upload timeout
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Telegram.UploadTimeout + cfg.Provider.AudioTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Media gateway listening", "addr", addr, "project", cfg.ProjectName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err)
		}
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Flushes buffered usage log entries before the database closes
	if err := deps.Close(); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}

	logger.Info("Server stopped")
}
