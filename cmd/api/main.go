// Package main is the entry point for the read-only operational API server.
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

	"github.com/joho/godotenv"

	"github.com/immoflow/propsync/internal/api"
	"github.com/immoflow/propsync/internal/app"
	"github.com/immoflow/propsync/internal/logger"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

const (
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to close application: %v\n", closeErr)
		}
	}()

	cfg := application.Config()
	log := application.Logger()

	router := api.NewRouter(
		application.Tracker(),
		runLister(application),
		application.Redis(),
		cfg,
		log,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		log.Info("Starting API server", logger.String("address", cfg.Server.Address))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("Server failed", logger.Error(serveErr))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		log.Error("Server forced to shutdown", logger.Error(shutdownErr))
	}
	log.Info("Server exited")
}

// runLister avoids handing the router a typed-nil interface when the run
// history database is disabled.
func runLister(application *app.App) api.RunLister {
	if repo := application.Runs(); repo != nil {
		return repo
	}
	return nil
}
