// processing-server serves endpoint pre- and post-processing over HTTP.
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

	"github.com/api3dao/commons-go/internal/api"
	"github.com/api3dao/commons-go/internal/config"
	"github.com/api3dao/commons-go/internal/metrics"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/processing"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	// Load configuration (uses defaults if no config file found)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	var endpoints *config.Endpoints
	if cfg.Endpoints.File != "" {
		endpoints, err = config.LoadEndpoints(cfg.Endpoints.File, cfg.Endpoints.SecretsFile)
		if err != nil {
			log.Error(ctx, "Failed to load endpoints", err)
			os.Exit(1)
		}
		log.Info(ctx, "Loaded endpoints", logger.Fields{"count": len(endpoints.ByName), "hash": endpoints.Hash})
	}

	processor := processing.NewProcessor(
		processing.WithLogger(log.Child("processing")),
		processing.WithRetries(cfg.Processing.Retries),
		processing.WithTotalTimeout(cfg.Processing.TotalTimeout),
	)

	server := api.NewServer(cfg, api.Dependencies{
		Processor: processor,
		Endpoints: endpoints,
		Metrics:   metrics.New(),
		Logger:    log.Child("api"),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info(ctx, "Starting processing server", logger.Fields{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "Server error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "Server shutdown error", err)
	}

	log.Info(ctx, "Server stopped")
}
